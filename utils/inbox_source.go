package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"naviai/models"
	"naviai/worker"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPFetcher pulls inbound email for inbox poll sources. It implements the
// poller's Fetcher contract: messages newer than the checkpoint come back as
// external items keyed by their Message-ID header.
type IMAPFetcher struct{}

func NewIMAPFetcher() *IMAPFetcher {
	return &IMAPFetcher{}
}

func (f *IMAPFetcher) Fetch(ctx context.Context, src models.PollSource, since time.Time) ([]worker.ExternalItem, error) {
	imapClient, err := f.dial(src)
	if err != nil {
		return nil, err
	}
	defer imapClient.Logout()

	if err := imapClient.Login(src.IMAPUsername, src.IMAPPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", worker.ErrSourceAuth, err)
	}

	mailbox := "INBOX"
	if src.IMAPMailbox != "" {
		mailbox = src.IMAPMailbox
	}
	if _, err := imapClient.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		// IMAP SINCE has day granularity; the dedup key absorbs the overlap.
		criteria.Since = since.Add(-24 * time.Hour)
	}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var items []worker.ExternalItem
	for msg := range messages {
		item, err := imapMessageToItem(msg)
		if err != nil {
			continue
		}
		if !since.IsZero() && item.OccurredAt.Before(since) {
			continue
		}
		items = append(items, item)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %v", err)
	}
	return items, nil
}

func (f *IMAPFetcher) dial(src models.PollSource) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", src.IMAPHost, src.IMAPPort)

	var imapClient *client.Client
	var err error
	switch strings.ToUpper(src.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(addr, &tls.Config{ServerName: src.IMAPHost})
	case "STARTTLS":
		imapClient, err = client.Dial(addr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{ServerName: src.IMAPHost})
		}
	default:
		imapClient, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	return imapClient, nil
}

func imapMessageToItem(msg *imap.Message) (worker.ExternalItem, error) {
	if msg.Envelope == nil || msg.Envelope.MessageId == "" {
		return worker.ExternalItem{}, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	var bodyText, bodyHTML string
	section := imap.BodySectionName{}
	if literal, ok := msg.Body[&section]; ok {
		mr, err := mail.CreateReader(literal)
		if err == nil {
			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				} else if err != nil {
					break
				}
				if h, ok := p.Header.(*mail.InlineHeader); ok {
					contentType, _, _ := h.ContentType()
					b, err := io.ReadAll(p.Body)
					if err != nil {
						continue
					}
					if strings.Contains(contentType, "text/html") {
						bodyHTML = string(b)
					} else if strings.Contains(contentType, "text/plain") {
						bodyText = string(b)
					}
				}
			}
		}
	}

	return worker.ExternalItem{
		ExternalID: msg.Envelope.MessageId,
		OccurredAt: msg.Envelope.Date,
		Fields: map[string]string{
			"from":      formatAddressList(msg.Envelope.From),
			"to":        formatAddressList(msg.Envelope.To),
			"subject":   msg.Envelope.Subject,
			"body":      bodyText,
			"body_html": bodyHTML,
		},
	}, nil
}

func formatAddressList(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName))
		} else {
			result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
		}
	}
	return strings.Join(result, ", ")
}
