package bqstore

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
)

// CatSchema is the table layout cats are stored with. Fields other than
// color and name are kept as a JSON object in the attributes column.
var CatSchema = bigquery.Schema{
	{Name: "color", Type: bigquery.StringFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: "attributes", Type: bigquery.StringFieldType},
	{Name: "received_at", Type: bigquery.TimestampFieldType, Required: true},
}

// CatRow adapts a catfeed.Item to a BigQuery row.
type CatRow struct {
	Item       catfeed.Item
	ReceivedAt time.Time
}

// Save implements bigquery.ValueSaver.
func (r *CatRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"received_at": r.ReceivedAt,
	}
	extra := make(map[string]any, len(r.Item))
	for k, v := range r.Item {
		switch k {
		case "color", "name":
			if v != nil {
				row[k] = fmt.Sprint(v)
			}
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return nil, "", fmt.Errorf("marshal cat attributes: %w", err)
		}
		row["attributes"] = string(data)
	}
	return row, uuid.NewString(), nil
}
