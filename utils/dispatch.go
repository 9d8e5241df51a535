package utils

import (
	"context"
	"errors"
	"fmt"
	"log"

	"naviai/models"
	"naviai/worker"
)

// ChannelDispatcher routes outbound messages to the right sender and adapts
// their results to the engine's dispatch contract.
type ChannelDispatcher struct {
	mailer *Mailer
	sms    *SMSSender
	logger *log.Logger
}

func NewChannelDispatcher(mailer *Mailer, sms *SMSSender, logger *log.Logger) *ChannelDispatcher {
	return &ChannelDispatcher{
		mailer: mailer,
		sms:    sms,
		logger: logger,
	}
}

// Dispatch sends one message to one recipient. Invalid addresses come back
// as permanent failures; everything else is transient and retryable.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, channel, address, subject, body string) worker.DispatchResult {
	var messageID string
	var err error

	switch channel {
	case models.ChannelEmail:
		messageID, err = d.mailer.Send(address, subject, body)
	case models.ChannelSMS:
		messageID, err = d.sms.Send(address, body)
	default:
		return worker.DispatchResult{
			Permanent: true,
			Err:       fmt.Errorf("unknown channel %q", channel),
		}
	}

	if err != nil {
		d.logger.Printf("dispatch failed (%s to %s): %v", channel, address, err)
		return worker.DispatchResult{
			Permanent: errors.Is(err, ErrInvalidRecipient),
			Err:       err,
		}
	}

	return worker.DispatchResult{Success: true, MessageID: messageID}
}
