package elastic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"driver-auth-service/internal/client"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/util"
)

// MarketingContacts upserts consenting drivers into the marketing contacts
// index. The document ID is derived from the phone so re-finalizing the same
// phone overwrites instead of duplicating.
type MarketingContacts struct {
	es    *client.ESClient
	index string
}

func NewMarketingContacts(es *client.ESClient, index string) *MarketingContacts {
	return &MarketingContacts{es: es, index: index}
}

func contactDocID(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:16])
}

// Upsert indexes the contact document under its phone-derived ID.
func (m *MarketingContacts) Upsert(contact *models.MarketingContact) error {
	if contact.UpdatedAt.IsZero() {
		contact.UpdatedAt = time.Now().UTC()
	}
	if contact.Source == "" {
		contact.Source = "driver_signup"
	}

	res, err := m.es.IndexDocument(m.index, contactDocID(contact.Phone), contact)
	if err != nil {
		return fmt.Errorf("failed to upsert marketing contact: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("marketing contact upsert rejected: %s", res.Status())
	}

	util.Debug("Marketing contact upserted",
		zap.String("index", m.index))

	return nil
}
