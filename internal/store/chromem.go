package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/assessd/internal/store")

// Metadata keys stored alongside each artifact document.
const (
	metaRequester = "requester_id"
	metaStatus    = "status"
	metaReason    = "reason"
	metaGrade     = "grade"
	metaTopic     = "topic"
	metaStartedAt = "started_at"
)

// sortableTime is a fixed-width UTC layout so started_at sorts as a string.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ChromemConfig configures a ChromemStore.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
}

// ChromemStore keeps artifacts in a chromem-go collection. Each document
// holds the artifact JSON, is keyed by run id and embeds the topic, so
// artifacts can be listed by metadata or searched by topic similarity.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewChromemStore opens or creates the store.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "run_artifacts"
	}
	if !collectionNamePattern.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("%w: collection name %q", ErrInvalidConfig, cfg.Collection)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, topicEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("artifact store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
		zap.String("collection", cfg.Collection),
		zap.Int("artifacts", col.Count()),
	)

	return &ChromemStore{db: db, collection: col, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Save stores a finalized artifact.
func (s *ChromemStore) Save(ctx context.Context, art *content.RunArtifact) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Save")
	defer span.End()

	if art == nil {
		return fmt.Errorf("%w: nil", content.ErrInvalidArtifact)
	}
	span.SetAttributes(attribute.String("run.id", art.RunID))

	if err := art.Validate(); err != nil {
		span.RecordError(err)
		return err
	}
	if _, err := s.collection.GetByID(ctx, art.RunID); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, art.RunID)
	}

	body, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	embedding, err := topicEmbedding(ctx, art.Input.Topic)
	if err != nil {
		return fmt.Errorf("embedding topic: %w", err)
	}

	doc := chromem.Document{
		ID:      art.RunID,
		Content: string(body),
		Metadata: map[string]string{
			metaRequester: art.RequesterID,
			metaStatus:    string(art.Final.Status),
			metaReason:    content.ReasonCode(art.Final.RejectionReason),
			metaGrade:     strconv.Itoa(art.Input.Grade),
			metaTopic:     art.Input.Topic,
			metaStartedAt: art.Timestamps.StartedAt.UTC().Format(sortableTime),
		},
		Embedding: embedding,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding artifact: %w", err)
	}

	s.logger.Debug("artifact saved",
		zap.String("run_id", art.RunID),
		zap.String("status", string(art.Final.Status)),
	)
	return nil
}

// Get returns the artifact for runID.
func (s *ChromemStore) Get(ctx context.Context, runID string) (*content.RunArtifact, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Get")
	defer span.End()

	doc, err := s.collection.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return decode(doc.Content)
}

// ListByRequester returns up to limit artifacts for requesterID.
func (s *ChromemStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*content.RunArtifact, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.ListByRequester")
	defer span.End()
	return s.list(ctx, map[string]string{metaRequester: requesterID}, ClampLimit(limit))
}

// ListRecent returns up to limit artifacts across all requesters.
func (s *ChromemStore) ListRecent(ctx context.Context, limit int) ([]*content.RunArtifact, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.ListRecent")
	defer span.End()
	return s.list(ctx, nil, ClampLimit(limit))
}

// Similar returns up to limit approved artifacts whose topics resemble
// topic, best match first.
func (s *ChromemStore) Similar(ctx context.Context, topic string, limit int) ([]*content.RunArtifact, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Similar")
	defer span.End()

	limit = ClampLimit(limit)
	n := s.collection.Count()
	if n == 0 {
		return []*content.RunArtifact{}, nil
	}
	if limit > n {
		limit = n
	}
	results, err := s.collection.Query(ctx, topic, limit, map[string]string{metaStatus: string(content.StatusApproved)}, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	out := make([]*content.RunArtifact, 0, len(results))
	for _, r := range results {
		art, err := decode(r.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, nil
}

// Stats counts stored outcomes.
func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Stats")
	defer span.End()

	docs, err := s.documents(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(docs), ByReason: map[string]int{}}
	for _, d := range docs {
		switch content.Status(d.Metadata[metaStatus]) {
		case content.StatusApproved:
			st.Approved++
		case content.StatusRejected:
			st.Rejected++
			st.ByReason[d.Metadata[metaReason]]++
		}
	}
	if st.Total > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(st.Total)
	}
	return st, nil
}

// Close releases the store. Persistent collections are written on every
// Save, so there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// list returns artifacts matching where, newest first.
func (s *ChromemStore) list(ctx context.Context, where map[string]string, limit int) ([]*content.RunArtifact, error) {
	docs, err := s.documents(ctx, where)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Metadata[metaStartedAt] > docs[j].Metadata[metaStartedAt]
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}

	out := make([]*content.RunArtifact, 0, len(docs))
	for _, d := range docs {
		art, err := decode(d.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, nil
}

// documents returns every document matching where. chromem-go has no scan
// API, so this queries with the collection size as the result count.
func (s *ChromemStore) documents(ctx context.Context, where map[string]string) ([]chromem.Result, error) {
	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	query, err := topicEmbedding(ctx, "")
	if err != nil {
		return nil, err
	}
	results, err := s.collection.QueryEmbedding(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	return results, nil
}

func decode(body string) (*content.RunArtifact, error) {
	var art content.RunArtifact
	if err := json.Unmarshal([]byte(body), &art); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	return &art, nil
}
