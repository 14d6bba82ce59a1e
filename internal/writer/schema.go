package writer

import (
	"encoding/json"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
)

// parquetCompression matches the teacher's general preference for
// reasonably-compressed columnar output; SNAPPY is parquet-go's default
// and the one every reader (including DuckDB's parquet_scan) supports
// without extra codecs.
const parquetCompression = parquet.CompressionCodec_SNAPPY

type schemaField struct {
	Tag string `json:"Tag"`
}

type schemaDoc struct {
	Tag    string        `json:"Tag"`
	Fields []schemaField `json:"Fields"`
}

// buildSchemaJSON renders parquet-go's JSON schema format
// (https://github.com/xitongsys/parquet-go's writer.NewJSONWriter input)
// from the portable column types a driver reported at discovery.
func buildSchemaJSON(columns []ColumnSchema) (string, error) {
	fields := make([]schemaField, len(columns))
	for i, c := range columns {
		tag, err := parquetTag(c)
		if err != nil {
			return "", err
		}
		fields[i] = schemaField{Tag: tag}
	}
	doc := schemaDoc{
		Tag:    "name=root, repetitiontype=REQUIRED",
		Fields: fields,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parquetTag(c ColumnSchema) (string, error) {
	repetition := "REQUIRED"
	if c.Nullable {
		repetition = "OPTIONAL"
	}

	switch c.Type {
	case TypeString:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=%s", c.Name, repetition), nil
	case TypeInt64:
		return fmt.Sprintf("name=%s, type=INT64, repetitiontype=%s", c.Name, repetition), nil
	case TypeFloat64:
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=%s", c.Name, repetition), nil
	case TypeBool:
		return fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=%s", c.Name, repetition), nil
	case TypeTimestamp:
		return fmt.Sprintf("name=%s, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=%s", c.Name, repetition), nil
	case TypeBytes:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, repetitiontype=%s", c.Name, repetition), nil
	default:
		return "", fmt.Errorf("unknown portable column type %q for column %q", c.Type, c.Name)
	}
}
