// Package server implements the fieldstore admin gRPC service
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/internal/metrics"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/metadata"
	"github.com/nainya/fieldstore/pkg/progress"
	"github.com/nainya/fieldstore/pkg/rules"
	"github.com/nainya/fieldstore/pkg/storage"
	"github.com/nainya/fieldstore/pkg/upgrade"
	"github.com/nainya/fieldstore/pkg/version"
)

// Server implements AdminServer over one index
type Server struct {
	ix       *index.Index
	pipeline *upgrade.Pipeline
	log      *logger.Logger
	metrics  *metrics.Metrics

	// Serializes upgrades against writes that check the version first
	mu        sync.Mutex
	startTime time.Time
}

// NewServer creates a server; log and m may be nil
func NewServer(ix *index.Index, pipeline *upgrade.Pipeline, log *logger.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		ix:        ix,
		pipeline:  pipeline,
		log:       log,
		metrics:   m,
		startTime: time.Now(),
	}
}

// FieldInfo is the API view of one field
type FieldInfo struct {
	ID              uint16   `json:"id"`
	Name            string   `json:"name"`
	Searchable      bool     `json:"searchable"`
	Sortable        bool     `json:"sortable"`
	Filterable      bool     `json:"filterable"`
	FacetSearchable bool     `json:"facetSearchable"`
	Faceted         bool     `json:"faceted"`
	Operators       []string `json:"filterOperators"`
	Locales         []string `json:"locales,omitempty"`
}

func newFieldInfo(f metadata.Field, filterable []rules.FilterableAttributesRule, localized []rules.LocalizedAttributesRule) FieldInfo {
	features := f.Metadata.FilterableAttributesFeatures(filterable)
	info := FieldInfo{
		ID:              uint16(f.ID),
		Name:            f.Name,
		Searchable:      f.Metadata.IsSearchable(),
		Sortable:        f.Metadata.IsSortable(),
		Filterable:      features.IsFilterable(),
		FacetSearchable: features.IsFacetSearchable(),
		Faceted:         f.Metadata.IsFaceted(filterable),
		Operators:       features.AllowedFilterOperators(),
	}
	if info.Operators == nil {
		info.Operators = []string{}
	}
	if tags, ok := f.Metadata.Locales(localized); ok {
		for _, tag := range tags {
			info.Locales = append(info.Locales, tag.String())
		}
	}
	return info
}

// toStruct converts any JSON-encodable value into a protobuf Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// fromStruct decodes a request Struct into out
func fromStruct(in *structpb.Struct, out any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func (s *Server) recordedVersion() (version.Version, error) {
	v, err := s.pipeline.RecordedVersion(s.ix)
	if err != nil {
		return version.Version{}, status.Errorf(codes.Internal, "read version: %v", err)
	}
	return v, nil
}

// requireCurrent rejects writes against an index that still needs upgrading
func (s *Server) requireCurrent() error {
	v, err := s.recordedVersion()
	if err != nil {
		return err
	}
	if v != s.pipeline.Current() {
		return status.Errorf(codes.FailedPrecondition, "index is at %v, upgrade to %v first", v, s.pipeline.Current())
	}
	return nil
}

// ========== Version Operations ==========

func (s *Server) GetVersion(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := s.recordedVersion()
	if err != nil {
		return nil, err
	}

	rtxn, err := s.ix.ReadTxn()
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "read: %v", err)
	}
	defer rtxn.Close()

	history, err := version.History(rtxn)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read history: %v", err)
	}

	return toStruct(map[string]any{
		"version":       v,
		"current":       s.pipeline.Current(),
		"upToDate":      v == s.pipeline.Current(),
		"history":       history,
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) Upgrade(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.pipeline.Run(ctx, s.ix, progress.Progress{})
	switch {
	case upgrade.ErrUnsupportedVersion.Has(err), upgrade.ErrDowngrade.Has(err):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, status.Errorf(codes.Internal, "upgrade failed at %v: %v", res.To, err)
	}

	return toStruct(map[string]any{
		"from":         res.From,
		"to":           res.To,
		"executed":     res.Executed,
		"needsReindex": res.NeedsReindex,
	})
}

// ========== Field Operations ==========

func (s *Server) fieldMap() (*metadata.FieldIDMapWithMetadata, error) {
	rtxn, err := s.ix.ReadTxn()
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "read: %v", err)
	}
	defer rtxn.Close()

	fm, err := s.ix.FieldsIDsMapWithMetadata(rtxn)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load fields: %v", err)
	}
	return fm, nil
}

func (s *Server) fields() ([]FieldInfo, error) {
	fm, err := s.fieldMap()
	if err != nil {
		return nil, err
	}
	filterable := fm.Builder().FilterableAttributes()
	localized, _ := fm.Builder().LocalizedAttributes()

	infos := make([]FieldInfo, 0, fm.Len())
	for f := range fm.All() {
		infos = append(infos, newFieldInfo(f, filterable, localized))
	}
	return infos, nil
}

func (s *Server) ListFields(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	infos, err := s.fields()
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"fields": infos})
}

func (s *Server) GetField(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	fm, err := s.fieldMap()
	if err != nil {
		return nil, err
	}
	id, md, ok := fm.IDWithMetadata(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "field not found: %s", name)
	}
	localized, _ := fm.Builder().LocalizedAttributes()
	field := metadata.Field{ID: id, Name: name, Metadata: md}
	return toStruct(newFieldInfo(field, fm.Builder().FilterableAttributes(), localized))
}

// ========== Document Operations ==========

func (s *Server) AddDocuments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}
	if len(body.Documents) == 0 {
		return nil, status.Error(codes.InvalidArgument, "documents are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireCurrent(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.addDocuments(body.Documents)
	s.log.IndexLogger("add_documents").LogIndexOperation("add_documents", time.Since(start), len(body.Documents), err)

	switch {
	case errors.Is(err, index.ErrMaxFieldsReached):
		s.metrics.RecordIndexOperation("add_documents", "error", time.Since(start))
		s.metrics.RecordFieldInserts("exhausted", 1)
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case err != nil:
		s.metrics.RecordIndexOperation("add_documents", "error", time.Since(start))
		return nil, status.Errorf(codes.Internal, "add documents: %v", err)
	}
	s.metrics.RecordIndexOperation("add_documents", "success", time.Since(start))

	newFields := res.NewFields
	if newFields == nil {
		newFields = []string{}
	}
	return toStruct(map[string]any{
		"documentIds": res.DocumentIDs,
		"newFields":   newFields,
	})
}

func (s *Server) addDocuments(docs []map[string]any) (index.AddResult, error) {
	wtxn, err := s.ix.WriteTxn()
	if err != nil {
		return index.AddResult{}, err
	}
	defer wtxn.Abort()

	res, err := s.ix.AddDocuments(wtxn, docs)
	if err != nil {
		return res, err
	}
	fields, documents, err := s.indexStats(wtxn)
	if err != nil {
		return res, err
	}
	if err := wtxn.Commit(); err != nil {
		return res, err
	}

	s.metrics.RecordFieldInserts("new", len(res.NewFields))
	s.metrics.UpdateIndexStats(fields, documents)
	return res, nil
}

func (s *Server) indexStats(r storage.Reader) (fields, documents int, err error) {
	fm, err := s.ix.FieldsIDsMap(r)
	if err != nil {
		return 0, 0, err
	}
	documents, err = s.ix.DocumentCount(r)
	return fm.Len(), documents, err
}

// RefreshIndexStats loads the field and document gauges from the stored index
func (s *Server) RefreshIndexStats() error {
	rtxn, err := s.ix.ReadTxn()
	if err != nil {
		return err
	}
	defer rtxn.Close()

	fields, documents, err := s.indexStats(rtxn)
	if err != nil {
		return err
	}
	s.metrics.UpdateIndexStats(fields, documents)
	return nil
}

// ========== Settings Operations ==========

func (s *Server) GetSettings(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rtxn, err := s.ix.ReadTxn()
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "read: %v", err)
	}
	defer rtxn.Close()

	settings, err := s.ix.Settings(rtxn)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load settings: %v", err)
	}
	return toStruct(settings)
}

func (s *Server) UpdateSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var settings index.Settings
	if err := fromStruct(req, &settings); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireCurrent(); err != nil {
		return nil, err
	}

	start := time.Now()
	err := s.applySettings(settings)
	s.log.IndexLogger("update_settings").LogIndexOperation("update_settings", time.Since(start), 1, err)

	switch {
	case errors.Is(err, metadata.ErrTooManyRules):
		s.metrics.RecordIndexOperation("update_settings", "error", time.Since(start))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		s.metrics.RecordIndexOperation("update_settings", "error", time.Since(start))
		return nil, status.Errorf(codes.Internal, "update settings: %v", err)
	}
	s.metrics.RecordIndexOperation("update_settings", "success", time.Since(start))
	return toStruct(settings)
}

func (s *Server) applySettings(settings index.Settings) error {
	wtxn, err := s.ix.WriteTxn()
	if err != nil {
		return err
	}
	defer wtxn.Abort()

	if err := s.ix.ApplySettings(wtxn, settings); err != nil {
		return err
	}
	return wtxn.Commit()
}
