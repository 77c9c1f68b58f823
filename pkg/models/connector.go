package models

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/iancoleman/strcase"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// ConnectorType tags which source a connector instance talks to.
type ConnectorType string

const (
	ConnectorTypeSlack          ConnectorType = "SLACK_CONNECTOR"
	ConnectorTypeNotion         ConnectorType = "NOTION_CONNECTOR"
	ConnectorTypeGitHub         ConnectorType = "GITHUB_CONNECTOR"
	ConnectorTypeLinear         ConnectorType = "LINEAR_CONNECTOR"
	ConnectorTypeJira           ConnectorType = "JIRA_CONNECTOR"
	ConnectorTypeConfluence     ConnectorType = "CONFLUENCE_CONNECTOR"
	ConnectorTypeBookStack      ConnectorType = "BOOKSTACK_CONNECTOR"
	ConnectorTypeClickUp        ConnectorType = "CLICKUP_CONNECTOR"
	ConnectorTypeAirtable       ConnectorType = "AIRTABLE_CONNECTOR"
	ConnectorTypeLuma           ConnectorType = "LUMA_CONNECTOR"
	ConnectorTypeGoogleCalendar ConnectorType = "GOOGLE_CALENDAR_CONNECTOR"
	ConnectorTypeGoogleGmail    ConnectorType = "GOOGLE_GMAIL_CONNECTOR"
	ConnectorTypeGoogleDrive    ConnectorType = "GOOGLE_DRIVE_CONNECTOR"
	ConnectorTypeDiscord        ConnectorType = "DISCORD_CONNECTOR"
	ConnectorTypeTeams          ConnectorType = "TEAMS_CONNECTOR"
	ConnectorTypeElasticsearch  ConnectorType = "ELASTICSEARCH_CONNECTOR"
	ConnectorTypeWebcrawler     ConnectorType = "WEBCRAWLER_CONNECTOR"
	ConnectorTypeObsidian       ConnectorType = "OBSIDIAN_CONNECTOR"
	ConnectorTypeJellyfin       ConnectorType = "JELLYFIN_CONNECTOR"
	ConnectorTypeHomeAssistant  ConnectorType = "HOME_ASSISTANT_CONNECTOR"
	ConnectorTypeRSS            ConnectorType = "RSS_CONNECTOR"
	ConnectorTypeFiles          ConnectorType = "FILES_CONNECTOR"
)

// AllConnectorTypes lists every valid type tag, in display order.
var AllConnectorTypes = []ConnectorType{
	ConnectorTypeSlack, ConnectorTypeNotion, ConnectorTypeGitHub,
	ConnectorTypeLinear, ConnectorTypeJira, ConnectorTypeConfluence,
	ConnectorTypeBookStack, ConnectorTypeClickUp, ConnectorTypeAirtable,
	ConnectorTypeLuma, ConnectorTypeGoogleCalendar, ConnectorTypeGoogleGmail,
	ConnectorTypeGoogleDrive, ConnectorTypeDiscord, ConnectorTypeTeams,
	ConnectorTypeElasticsearch, ConnectorTypeWebcrawler, ConnectorTypeObsidian,
	ConnectorTypeJellyfin, ConnectorTypeHomeAssistant, ConnectorTypeRSS,
	ConnectorTypeFiles,
}

var oauthConnectorTypes = map[ConnectorType]bool{
	ConnectorTypeGoogleCalendar: true,
	ConnectorTypeGoogleGmail:    true,
	ConnectorTypeGoogleDrive:    true,
	ConnectorTypeAirtable:       true,
	ConnectorTypeTeams:          true,
}

// IsValid reports whether t is a known connector type tag.
func (t ConnectorType) IsValid() bool {
	for _, known := range AllConnectorTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsOAuth reports whether the type authenticates via an OAuth grant. OAuth
// types may have multiple instances per search space (one per granted
// account); all other types are limited to one instance per space.
func (t ConnectorType) IsOAuth() bool {
	return oauthConnectorTypes[t]
}

// DisplayName renders the tag for human-facing output, e.g.
// GOOGLE_CALENDAR_CONNECTOR becomes "Google Calendar".
func (t ConnectorType) DisplayName() string {
	base := strings.TrimSuffix(string(t), "_CONNECTOR")
	words := strcase.ToDelimited(strings.ToLower(base), ' ')
	name := cases.Title(language.English).String(words)
	// Vendor spellings the generic title-caser gets wrong.
	replacer := strings.NewReplacer(
		"Github", "GitHub",
		"Clickup", "ClickUp",
		"Rss", "RSS",
		"Bookstack", "BookStack",
	)
	return replacer.Replace(name)
}

// Connector is one configured source instance inside a search space. The
// Config map is opaque to the engine: adapters decode it, credentials inside
// it are encrypted at rest and flagged with the _token_encrypted marker key.
type Connector struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SearchSpaceID uint          `gorm:"not null;index:idx_connectors_space" json:"searchSpaceId"`
	ConnectorType ConnectorType `gorm:"type:varchar(50);not null;index:idx_connectors_type" json:"connectorType"`
	Name          string        `gorm:"type:varchar(200);not null" json:"name"`
	UserID        string        `gorm:"type:varchar(255);not null" json:"userId"`

	Config JSON `gorm:"type:jsonb" json:"config,omitempty"`

	// Indexing state
	IsIndexable              bool       `gorm:"not null;default:false" json:"isIndexable"`
	PeriodicIndexingEnabled  bool       `gorm:"not null;default:false" json:"periodicIndexingEnabled"`
	IndexingFrequencyMinutes int        `gorm:"type:integer;default:0" json:"indexingFrequencyMinutes"`
	LastIndexedAt            *time.Time `json:"lastIndexedAt,omitempty"`
	NextScheduledAt          *time.Time `json:"nextScheduledAt,omitempty"`

	// LastIndexedSettingsHash fingerprints the user-visible config at the
	// time of the last successful run. A mismatch forces the next run to
	// full sync.
	LastIndexedSettingsHash string `gorm:"type:varchar(64)" json:"-"`

	// DeltaCursor is the source-native incremental position (Slack ts,
	// Notion cursor, Drive page token). Empty means no delta state.
	DeltaCursor string `gorm:"type:text" json:"-"`
}

// TableName specifies the table name.
func (Connector) TableName() string {
	return "connectors"
}

// Validate enforces field and cross-field constraints.
func (c *Connector) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.SearchSpaceID, validation.Required),
		validation.Field(&c.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.UserID, validation.Required),
		validation.Field(&c.ConnectorType, validation.Required,
			validation.By(func(interface{}) error {
				if !c.ConnectorType.IsValid() {
					return fmt.Errorf("unknown connector type %q", c.ConnectorType)
				}
				return nil
			})),
	)
	if err != nil {
		return err
	}
	if c.PeriodicIndexingEnabled {
		if !c.IsIndexable {
			return fmt.Errorf("periodic indexing requires an indexable connector")
		}
		if c.IndexingFrequencyMinutes <= 0 {
			return fmt.Errorf("periodic indexing requires a positive frequency, got %d",
				c.IndexingFrequencyMinutes)
		}
	}
	return nil
}

// BeforeCreate validates the connector row.
func (c *Connector) BeforeCreate(tx *gorm.DB) error {
	return c.Validate()
}

// BeforeSave validates updates as well as inserts.
func (c *Connector) BeforeSave(tx *gorm.DB) error {
	return c.Validate()
}

// Create inserts the connector, enforcing the one-instance-per-space rule for
// non-OAuth types inside a transaction.
func (c *Connector) Create(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if !c.ConnectorType.IsOAuth() {
			var count int64
			err := tx.Model(&Connector{}).
				Where("search_space_id = ? AND connector_type = ?",
					c.SearchSpaceID, c.ConnectorType).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("connector type %s already exists in search space %d",
					c.ConnectorType, c.SearchSpaceID)
			}
		}
		return tx.Create(c).Error
	})
}

// GetConnector retrieves a connector by ID.
func GetConnector(db *gorm.DB, id uint) (*Connector, error) {
	var c Connector
	if err := db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnectorsBySpace retrieves all connectors in a search space.
func GetConnectorsBySpace(db *gorm.DB, searchSpaceID uint) ([]Connector, error) {
	var out []Connector
	err := db.Where("search_space_id = ?", searchSpaceID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// GetConnectorsByIDs loads the selected connectors for a retrieval fan-out,
// scoped to the search space. Unknown ids are silently absent from the result.
func GetConnectorsByIDs(db *gorm.DB, searchSpaceID uint, ids []uint) ([]Connector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Connector
	err := db.Where("search_space_id = ? AND id IN ?", searchSpaceID, ids).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// GetPeriodicConnectors retrieves every connector with periodic indexing
// enabled, for schedule reconciliation at startup.
func GetPeriodicConnectors(db *gorm.DB) ([]Connector, error) {
	var out []Connector
	err := db.Where("periodic_indexing_enabled = ? AND is_indexable = ?", true, true).
		Find(&out).Error
	return out, err
}

// RecordRunSuccess persists post-run indexing state. lastIndexed always
// advances on a successful run, whether or not any item was written.
func (c *Connector) RecordRunSuccess(db *gorm.DB, lastIndexed time.Time, cursor, settingsHash string) error {
	updates := map[string]interface{}{
		"last_indexed_at":            lastIndexed.UTC(),
		"delta_cursor":               cursor,
		"last_indexed_settings_hash": settingsHash,
	}
	if err := db.Model(c).Updates(updates).Error; err != nil {
		return err
	}
	t := lastIndexed.UTC()
	c.LastIndexedAt = &t
	c.DeltaCursor = cursor
	c.LastIndexedSettingsHash = settingsHash
	return nil
}

// RecordRunState persists the delta cursor and settings hash without
// advancing last_indexed_at, for callers deferring the watermark while they
// orchestrate retries.
func (c *Connector) RecordRunState(db *gorm.DB, cursor, settingsHash string) error {
	updates := map[string]interface{}{
		"delta_cursor":               cursor,
		"last_indexed_settings_hash": settingsHash,
	}
	if err := db.Model(c).Updates(updates).Error; err != nil {
		return err
	}
	c.DeltaCursor = cursor
	c.LastIndexedSettingsHash = settingsHash
	return nil
}

// SetNextScheduledAt records when the scheduler will fire next.
func (c *Connector) SetNextScheduledAt(db *gorm.DB, next *time.Time) error {
	if err := db.Model(c).Update("next_scheduled_at", next).Error; err != nil {
		return err
	}
	c.NextScheduledAt = next
	return nil
}

// ConfigMap decodes the opaque config column.
func (c *Connector) ConfigMap() (map[string]interface{}, error) {
	return c.Config.AsMap()
}

// SetConfigMap replaces the config column and persists it.
func (c *Connector) SetConfigMap(db *gorm.DB, cfg map[string]interface{}) error {
	j := JSONFrom(cfg)
	if err := db.Model(c).Update("config", j).Error; err != nil {
		return err
	}
	c.Config = j
	return nil
}
