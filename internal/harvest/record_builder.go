package harvest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const defaultContentChannel = "web_page"

// RecordBuilder converts a unit's raw extraction into a canonical-shaped
// RawRecord with stable identity and source attribution.
type RecordBuilder struct {
	clock Clock
}

// NewRecordBuilder creates a RecordBuilder stamping fetch times from clock.
func NewRecordBuilder(clock Clock) *RecordBuilder {
	return &RecordBuilder{clock: clock}
}

// Build resolves identity, category and timestamps for one extracted item.
// The item's own declared category wins over the unit default but must be
// a member of the closed enum; an unknown value is a ValidationError.
func (b *RecordBuilder) Build(item ExtractedItem, unit FetchUnit) (RawRecord, error) {
	source := unit.Source()

	recordID := strings.TrimSpace(item.SourceRecordID)
	if recordID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return RawRecord{}, fmt.Errorf("generate record id: %w", err)
		}
		recordID = id.String()
	}

	category := source.DefaultCategory
	if declared := strings.TrimSpace(item.Category); declared != "" {
		parsed, err := ParseCategory(declared)
		if err != nil {
			return RawRecord{}, err
		}
		category = parsed
	}

	channel := source.ContentChannel
	if channel == "" {
		channel = defaultContentChannel
	}

	return RawRecord{
		RecordID:       recordID,
		SourceID:       source.ID,
		SourceName:     source.Name,
		Category:       category,
		Title:          strings.TrimSpace(item.Title),
		ContentMarkup:  item.ContentMarkup,
		SourceURL:      item.SourceURL,
		PublishTime:    item.PublishTime,
		FetchTime:      b.clock.Now(),
		ContentChannel: channel,
		Metadata:       item.Metadata,
	}, nil
}
