package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// BigQueryDatasetConfig holds configuration for the BigQuery result inserter.
type BigQueryDatasetConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset_id"`
	TableID         string `yaml:"table_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ApplyEnv overrides fields from GCP_PROJECT_ID, BQ_DATASET_ID, BQ_TABLE_ID
// and GCP_BQ_CREDENTIALS_FILE.
func (c *BigQueryDatasetConfig) ApplyEnv() {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("BQ_DATASET_ID"); v != "" {
		c.DatasetID = v
	}
	if v := os.Getenv("BQ_TABLE_ID"); v != "" {
		c.TableID = v
	}
	if v := os.Getenv("GCP_BQ_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
}

// Validate checks the required fields.
func (c *BigQueryDatasetConfig) Validate() error {
	if c.ProjectID == "" {
		return errors.New("GCP_PROJECT_ID not set for BigQuery config")
	}
	if c.DatasetID == "" {
		return errors.New("BQ_DATASET_ID not set for BigQuery config")
	}
	if c.TableID == "" {
		return errors.New("BQ_TABLE_ID not set for BigQuery config")
	}
	return nil
}

// NewProductionBigQueryClient creates a BigQuery client, using a credentials
// file when one is configured and ADC otherwise.
func NewProductionBigQueryClient(ctx context.Context, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// rowInserter is satisfied by *bigquery.Inserter.
type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryResultInserter stores every cat of a Result as one row.
type BigQueryResultInserter struct {
	inserter rowInserter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBigQueryResultInserter connects to the configured table, creating it
// with CatSchema if it does not exist yet.
func NewBigQueryResultInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*BigQueryResultInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := table.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found, creating it.")
		meta := &bigquery.TableMetadata{
			Schema: CatSchema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: "received_at",
			},
		}
		if err := table.Create(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
	}

	return newBigQueryResultInserter(table.Inserter(), logger), nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func newBigQueryResultInserter(inserter rowInserter, logger zerolog.Logger) *BigQueryResultInserter {
	return &BigQueryResultInserter{
		inserter: inserter,
		logger:   logger.With().Str("component", "BigQueryResultInserter").Logger(),
		now:      time.Now,
	}
}

// Write inserts the cats of result. All rows share one received_at.
func (i *BigQueryResultInserter) Write(ctx context.Context, result *catfeed.Result) error {
	if result == nil || len(result.Cats) == 0 {
		return nil
	}
	receivedAt := i.now().UTC()
	rows := make([]*CatRow, len(result.Cats))
	for n, cat := range result.Cats {
		rows[n] = &CatRow{Item: cat, ReceivedAt: receivedAt}
	}

	if err := i.inserter.Put(ctx, rows); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("Row insertion error: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery insert of %d cats: %w", len(rows), err)
	}
	i.logger.Debug().Int("cat_count", len(rows)).Msg("Inserted cats into BigQuery.")
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (i *BigQueryResultInserter) Close() error { return nil }
