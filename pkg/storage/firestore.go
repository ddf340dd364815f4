package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// docIDLayout keeps a fixed width so document IDs sort chronologically.
const docIDLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every document stores the record as a JSON blob plus a
// timestamp field used for ordering.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	prefix    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	prefix := lflag.String("firestore-collection-prefix", "", "Prefix added to every collection name")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.prefix = *prefix

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty and detected from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + name)
}

func readingDocID(ts time.Time) string {
	return ts.UTC().Format(docIDLayout)
}

func panelDocID(ts time.Time, panelID string) string {
	// a slash would address a subcollection
	return ts.UTC().Format(docIDLayout) + "_" + strings.ReplaceAll(panelID, "/", "_")
}

func jsonDoc(v any, ts time.Time, extra map[string]interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := map[string]interface{}{
		"json":      string(b),
		"timestamp": ts.UTC(),
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc, nil
}

// decodeDoc unmarshals the json field of doc into dest.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document (id=%s): %w", doc.Ref.ID, err)
	}
	return nil
}

// collect iterates a query and decodes the json field of each document.
func collect[T any](ctx context.Context, iter *firestore.DocumentIterator, what string) ([]T, error) {
	defer iter.Stop()

	out := []T{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable("error iterating "+what, err)
		}
		var v T
		if err := decodeDoc(ctx, doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *FirestoreProvider) create(ctx context.Context, ref *firestore.DocumentRef, doc map[string]interface{}, what string) error {
	_, err := ref.Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%s %s: %w", what, ref.ID, ErrPersistenceConflict)
	}
	if err != nil {
		return unavailable("failed to insert "+what, err)
	}
	return nil
}

// InsertReading adds a reading to the "solar_readings" collection. The
// document ID is the fixed-width timestamp.
func (f *FirestoreProvider) InsertReading(ctx context.Context, r types.Reading) error {
	doc, err := jsonDoc(r, r.Timestamp, nil)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return f.create(ctx, f.collection("solar_readings").Doc(readingDocID(r.Timestamp)), doc, "reading")
}

// InsertPanelReading adds a panel reading to the "panel_readings" collection.
func (f *FirestoreProvider) InsertPanelReading(ctx context.Context, p types.PanelReading) error {
	doc, err := jsonDoc(p, p.Timestamp, map[string]interface{}{"panel_id": p.PanelID})
	if err != nil {
		return fmt.Errorf("failed to marshal panel reading: %w", err)
	}
	return f.create(ctx, f.collection("panel_readings").Doc(panelDocID(p.Timestamp, p.PanelID)), doc, "panel reading")
}

type batchDoc struct {
	ref     *firestore.DocumentRef
	data    map[string]interface{}
	reading bool
}

// WriteBatch commits readings and panels in one transaction. Existing
// documents are read first and left untouched.
func (f *FirestoreProvider) WriteBatch(ctx context.Context, readings []types.Reading, panels []types.PanelReading) (types.WriteResult, error) {
	docs := make([]batchDoc, 0, len(readings)+len(panels))
	for _, r := range readings {
		data, err := jsonDoc(r, r.Timestamp, nil)
		if err != nil {
			return types.WriteResult{}, fmt.Errorf("failed to marshal reading: %w", err)
		}
		docs = append(docs, batchDoc{ref: f.collection("solar_readings").Doc(readingDocID(r.Timestamp)), data: data, reading: true})
	}
	for _, p := range panels {
		data, err := jsonDoc(p, p.Timestamp, map[string]interface{}{"panel_id": p.PanelID})
		if err != nil {
			return types.WriteResult{}, fmt.Errorf("failed to marshal panel reading: %w", err)
		}
		docs = append(docs, batchDoc{ref: f.collection("panel_readings").Doc(panelDocID(p.Timestamp, p.PanelID)), data: data})
	}
	if len(docs) == 0 {
		return types.WriteResult{}, nil
	}

	refs := make([]*firestore.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = d.ref
	}

	var res types.WriteResult
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// the function can be retried so start from scratch each time
		res = types.WriteResult{}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(docs))
		for i, d := range docs {
			if snaps[i].Exists() || seen[d.ref.Path] {
				res.Duplicates++
				continue
			}
			seen[d.ref.Path] = true
			if err := tx.Create(d.ref, d.data); err != nil {
				return err
			}
			if d.reading {
				res.ReadingsInserted++
			} else {
				res.PanelsInserted++
			}
		}
		return nil
	})
	if err != nil {
		return types.WriteResult{}, unavailable("failed to commit batch", err)
	}
	return res, nil
}

// GetReading returns the reading stored at exactly ts.
func (f *FirestoreProvider) GetReading(ctx context.Context, ts time.Time) (types.Reading, error) {
	doc, err := f.collection("solar_readings").Doc(readingDocID(ts)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return types.Reading{}, fmt.Errorf("reading at %s: %w", ts.UTC().Format(time.RFC3339Nano), ErrNotFound)
	}
	if err != nil {
		return types.Reading{}, unavailable("failed to get reading", err)
	}
	var r types.Reading
	if err := decodeDoc(ctx, doc, &r); err != nil {
		return types.Reading{}, err
	}
	return r, nil
}

// GetLatestReading returns the newest reading.
func (f *FirestoreProvider) GetLatestReading(ctx context.Context) (types.Reading, error) {
	coll := f.collection("solar_readings")
	readings, err := collect[types.Reading](ctx, coll.OrderBy(firestore.DocumentID, firestore.Desc).Limit(1).Documents(ctx), "readings")
	if err != nil {
		return types.Reading{}, err
	}
	if len(readings) == 0 {
		return types.Reading{}, fmt.Errorf("latest reading: %w", ErrNotFound)
	}
	return readings[0], nil
}

// GetReadings retrieves readings within the query range using document ID
// range queries, newest first.
func (f *FirestoreProvider) GetReadings(ctx context.Context, q ReadingQuery) ([]types.Reading, error) {
	coll := f.collection("solar_readings")
	query := coll.Query
	if !q.Start.IsZero() {
		query = query.Where(firestore.DocumentID, ">=", coll.Doc(readingDocID(q.Start)))
	}
	if !q.End.IsZero() {
		query = query.Where(firestore.DocumentID, "<=", coll.Doc(readingDocID(q.End)))
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return collect[types.Reading](ctx, query.Documents(ctx), "readings")
}

// GetPanelReadings retrieves panel readings, newest first.
func (f *FirestoreProvider) GetPanelReadings(ctx context.Context, q PanelQuery) ([]types.PanelReading, error) {
	query := f.collection("panel_readings").Query
	if !q.Around.IsZero() {
		query = query.
			Where("timestamp", ">=", q.Around.Add(-q.Window).UTC()).
			Where("timestamp", "<=", q.Around.Add(q.Window).UTC())
	}
	query = query.OrderBy("timestamp", firestore.Desc).OrderBy("panel_id", firestore.Asc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return collect[types.PanelReading](ctx, query.Documents(ctx), "panel readings")
}

// InsertStatus appends a status entry to the "system_status" collection.
func (f *FirestoreProvider) InsertStatus(ctx context.Context, st types.SystemStatus) error {
	doc, err := jsonDoc(st, st.Timestamp, nil)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if _, err := f.collection("system_status").NewDoc().Create(ctx, doc); err != nil {
		return unavailable("failed to insert status", err)
	}
	return nil
}

// GetStatuses returns the newest limit status entries.
func (f *FirestoreProvider) GetStatuses(ctx context.Context, limit int) ([]types.SystemStatus, error) {
	iter := f.collection("system_status").OrderBy("timestamp", firestore.Desc).Limit(limit).Documents(ctx)
	return collect[types.SystemStatus](ctx, iter, "statuses")
}

// UpsertSourceState stores the state of a data source keyed by its name. A
// zero LastSuccessfulFetch keeps the previously stored value.
func (f *FirestoreProvider) UpsertSourceState(ctx context.Context, st types.SourceState) error {
	ref := f.collection("data_sources").Doc(st.Name)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		next := st
		if next.LastSuccessfulFetch.IsZero() {
			doc, err := tx.Get(ref)
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			if err == nil {
				var prev types.SourceState
				if err := decodeDoc(ctx, doc, &prev); err != nil {
					return err
				}
				next.LastSuccessfulFetch = prev.LastSuccessfulFetch
			}
		}
		data, err := jsonDoc(next, next.UpdatedAt, nil)
		if err != nil {
			return err
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		return unavailable("failed to upsert source state", err)
	}
	return nil
}

// ListSourceStates returns every tracked data source ordered by name.
func (f *FirestoreProvider) ListSourceStates(ctx context.Context) ([]types.SourceState, error) {
	iter := f.collection("data_sources").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	return collect[types.SourceState](ctx, iter, "sources")
}

// InsertLogEntries appends log entries in one write batch.
func (f *FirestoreProvider) InsertLogEntries(ctx context.Context, entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	coll := f.collection("log_entries")
	batch := f.client.Batch()
	for _, e := range entries {
		doc, err := jsonDoc(e, e.Timestamp, map[string]interface{}{"level": e.Level})
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		batch.Create(coll.NewDoc(), doc)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return unavailable("failed to insert log entries", err)
	}
	return nil
}

// GetLogEntries returns persisted log entries, newest first.
func (f *FirestoreProvider) GetLogEntries(ctx context.Context, q LogQuery) ([]types.LogEntry, error) {
	query := f.collection("log_entries").Query
	if q.Level != "" {
		query = query.Where("level", "==", strings.ToUpper(q.Level))
	}
	query = query.OrderBy("timestamp", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return collect[types.LogEntry](ctx, query.Documents(ctx), "log entries")
}
