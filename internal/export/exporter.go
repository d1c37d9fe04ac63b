package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/query"
	"github.com/stockpilot/stockpilot/internal/storage"
)

const (
	contentType       = "application/vnd.apache.parquet"
	defaultLinkExpiry = 15 * time.Minute
)

type Request struct {
	RequestID string
	Question  string
	SQL       string
	Result    query.Result
}

type Export struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	Rows int    `json:"rows"`
	// URL is set when the store can presign downloads.
	URL string `json:"url,omitempty"`
}

type Exporter struct {
	Store      storage.ObjectStore
	LinkExpiry time.Duration
	Now        func() time.Time
}

func NewExporter(store storage.ObjectStore) *Exporter {
	return &Exporter{Store: store, LinkExpiry: defaultLinkExpiry, Now: time.Now}
}

func (e *Exporter) Export(ctx context.Context, req Request) (Export, error) {
	if e.Store == nil {
		return Export{}, fmt.Errorf("object store is required")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	key, err := storage.BuildExportPath(req.RequestID, now())
	if err != nil {
		return Export{}, fmt.Errorf("build export path: %w", err)
	}

	encoded, err := EncodeResult(req.Result, Metadata{RequestID: req.RequestID, Question: req.Question, SQL: req.SQL})
	if err != nil {
		return Export{}, fmt.Errorf("encode export: %w", err)
	}
	info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: contentType})
	if err != nil {
		return Export{}, fmt.Errorf("store export: %w", err)
	}

	out := Export{Key: key, Size: info.Size, Rows: encoded.Rows}
	if out.Size == 0 {
		out.Size = int64(len(encoded.Data))
	}
	if signer, ok := e.Store.(storage.URLSigner); ok {
		expiry := e.LinkExpiry
		if expiry <= 0 {
			expiry = defaultLinkExpiry
		}
		link, err := signer.PresignGet(ctx, key, expiry)
		if err != nil {
			return Export{}, fmt.Errorf("presign export: %w", err)
		}
		out.URL = link
	}
	return out, nil
}
