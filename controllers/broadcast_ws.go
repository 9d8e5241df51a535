package controller

import (
	"log"
	"time"

	"naviai/models"

	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// HandleBroadcastProgressWS streams live progress for one broadcast. The
// client sends the broadcast ID once, then receives counter snapshots until
// the broadcast reaches a terminal state or the connection drops.
func HandleBroadcastProgressWS(db *gorm.DB) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			BroadcastID uint `json:"broadcast_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			log.Printf("broadcast ws: error reading JSON: %v", err)
			return
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			var broadcast models.Broadcast
			if err := db.First(&broadcast, input.BroadcastID).Error; err != nil {
				log.Printf("broadcast ws: lookup failed: %v", err)
				return
			}

			progress := struct {
				Status          string `json:"status"`
				TotalRecipients int    `json:"total_recipients"`
				SentCount       int    `json:"sent_count"`
				FailedCount     int    `json:"failed_count"`
				OpenCount       int    `json:"open_count"`
				ClickCount      int    `json:"click_count"`
				WinnerVariant   string `json:"winner_variant,omitempty"`
			}{
				Status:          broadcast.Status,
				TotalRecipients: broadcast.TotalRecipients,
				SentCount:       broadcast.SentCount,
				FailedCount:     broadcast.FailedCount,
				OpenCount:       broadcast.OpenCount,
				ClickCount:      broadcast.ClickCount,
				WinnerVariant:   broadcast.WinnerVariant,
			}

			if err := c.WriteJSON(progress); err != nil {
				return
			}

			if broadcast.Status == models.BroadcastSent || broadcast.Status == models.BroadcastFailed {
				return
			}
		}
	}
}
