// Package restore rebuilds query-builder state from a composed query.
//
// A Restorer parses the query, checks its root object, builds the
// relationship trees the query needs through a per-call describe cache and
// resolves every SELECT entry, filter condition and clause against them.
// Anything that cannot be resolved is reported in the result's diagnostics;
// only an unparsable query, an unknown root object or a failed describe call
// produce an error.
package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"soqlrestore/internal/describe"
	"soqlrestore/internal/logging"
	"soqlrestore/internal/metadatatree"
	"soqlrestore/internal/observability"
	"soqlrestore/internal/soql"
)

// Parser turns query text into an AST.
type Parser func(text string) (*soql.Query, error)

// Restorer restores queries against one describe transport. It is safe for
// concurrent use; every Restore call gets its own describe cache.
type Restorer struct {
	transport       describe.Transport
	parse           Parser
	logger          *logging.Logger
	metrics         *observability.RestoreMetrics
	describeMetrics *observability.DescribeMetrics
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithLogger sets the logger used for failures and diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Restorer) {
		r.logger = logger
	}
}

// WithMetrics records restore and describe cache metrics. Either may be nil.
func WithMetrics(restoreMetrics *observability.RestoreMetrics, describeMetrics *observability.DescribeMetrics) Option {
	return func(r *Restorer) {
		r.metrics = restoreMetrics
		r.describeMetrics = describeMetrics
	}
}

// WithParser replaces soql.Parse.
func WithParser(parse Parser) Option {
	return func(r *Restorer) {
		r.parse = parse
	}
}

// NewRestorer creates a Restorer over transport.
func NewRestorer(transport describe.Transport, opts ...Option) *Restorer {
	r := &Restorer{
		transport: transport,
		parse:     soql.Parse,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields("component", "restore")
	return r
}

// Restore parses text and restores it. The error is a *UserFacingError for
// queries that cannot be restored at all and wraps ErrRestoreFailed for
// everything else.
func (r *Restorer) Restore(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "restore.restore")
	defer span.End()

	if r.metrics != nil {
		r.metrics.IncrementActiveRestores(ctx)
		defer r.metrics.DecrementActiveRestores(ctx)
	}

	result, err := r.restore(ctx, text)

	outcome := observability.OutcomeSuccess
	var userErr *UserFacingError
	switch {
	case errors.As(err, &userErr):
		outcome = observability.OutcomeUser
		span.SetAttributes(attribute.String("restore.user_error", userErr.Message))
	case err != nil:
		outcome = observability.OutcomeInternal
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("restore failed", "error", err)
		err = internalError(err)
	}
	if r.metrics != nil {
		r.metrics.RecordRestore(ctx, time.Since(start), outcome)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Restorer) restore(ctx context.Context, text string) (*Result, error) {
	query, err := r.parse(text)
	if err != nil {
		return nil, userError(err, "query could not be parsed: %v", err)
	}

	cache := describe.NewCache(r.transport, describe.WithCacheMetrics(r.describeMetrics))
	global, err := cache.Global(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe global: %w", err)
	}
	summary, ok := describe.FindSummary(global, query.From)
	if !ok {
		return nil, userError(nil, "object %s was not found", query.From)
	}
	root, err := cache.Get(ctx, summary.Name)
	if errors.Is(err, describe.ErrObjectNotFound) {
		return nil, userError(err, "object %s was not found", query.From)
	}
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", summary.Name, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("restore.root_object", root.Name))

	return r.assemble(ctx, cache, root, query)
}

// subselect is a sub-select whose child relationship was found on the root.
type subselect struct {
	name  string
	rel   describe.ChildRelationship
	query *soql.Query
	tree  *metadatatree.Tree
}

func (r *Restorer) assemble(ctx context.Context, cache *describe.Cache, root *describe.Object, query *soql.Query) (*Result, error) {
	diag := newDiagnostics()
	subs := planSubselects(root, query, diag)

	var rootTree *metadatatree.Tree
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tree, err := buildTree(gctx, root, root.Name, metadatatree.ExtractPaths(query), cache)
		rootTree = tree
		return err
	})
	for _, sub := range subs {
		g.Go(func() error {
			obj, err := cache.Get(gctx, sub.rel.ChildObject)
			if errors.Is(err, describe.ErrObjectNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("describe %s: %w", sub.rel.ChildObject, err)
			}
			sub.tree, err = buildTree(gctx, obj, root.Name+":"+sub.name, metadatatree.ExtractPaths(sub.query), cache)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := newPathIndex(rootTree)
	result := &Result{
		RootObject:     root.Name,
		MetadataTree:   rootTree,
		SelectedFields: newFieldResolver(index, diag.missingField, diag, "").resolve(query.Fields),
		Subqueries:     make(map[string]*SubqueryResult, len(subs)),
		Limit:          query.Limit,
		Offset:         query.Offset,
	}

	for _, sub := range subs {
		missing := func(ref string) {
			diag.missingSubqueryField(sub.name, ref)
		}
		if sub.tree == nil {
			diag.missingMisc(fmt.Sprintf("sub-select %s: object %s was not found", sub.name, sub.rel.ChildObject))
			for _, ref := range rawFields(sub.query.Fields) {
				missing(ref)
			}
			continue
		}
		resolver := newFieldResolver(newPathIndex(sub.tree), missing, diag, "sub-select "+sub.name)
		result.Subqueries[sub.name] = &SubqueryResult{
			Object:         sub.tree.RootName,
			Tree:           sub.tree,
			SelectedFields: resolver.resolve(sub.query.Fields),
		}
	}

	result.Where = flattenFilter(query.Where, index, diag, "WHERE")
	result.Having = flattenFilter(query.Having, index, diag, "HAVING")
	result.GroupBy = reconcileGroupBy(query.GroupBy, index, diag)
	result.OrderBy = reconcileOrderBy(query.OrderBy, index, diag)
	result.Diagnostics = diag.result()

	r.record(ctx, result)
	return result, nil
}

// planSubselects matches each sub-select to a child relationship of root.
// Unknown relationships and repeated sub-selects are reported and skipped.
func planSubselects(root *describe.Object, query *soql.Query, diag *diagnostics) []*subselect {
	var subs []*subselect
	seen := make(map[string]bool)
	for _, field := range query.Fields {
		f, ok := field.(*soql.FieldSubquery)
		if !ok {
			continue
		}
		rel, found := root.ChildRelationship(f.Query.From)
		name := f.Query.From
		if found {
			name = rel.RelationshipName
		}
		if seen[strings.ToLower(name)] {
			diag.missingMisc(fmt.Sprintf("duplicate sub-select on %s", name))
			continue
		}
		seen[strings.ToLower(name)] = true

		if !found {
			diag.missingMisc(fmt.Sprintf("unknown child relationship %s", name))
			for _, ref := range rawFields(f.Query.Fields) {
				diag.missingSubqueryField(name, ref)
			}
			continue
		}
		for _, clause := range unrestoredClauses(f.Query) {
			diag.missingMisc(fmt.Sprintf("sub-select %s: %s is not restored", name, clause))
		}
		subs = append(subs, &subselect{name: name, rel: rel, query: f.Query})
	}
	return subs
}

func unrestoredClauses(q *soql.Query) []string {
	var clauses []string
	if q.Where != nil {
		clauses = append(clauses, "WHERE")
	}
	if len(q.GroupBy) > 0 {
		clauses = append(clauses, "GROUP BY")
	}
	if q.Having != nil {
		clauses = append(clauses, "HAVING")
	}
	if len(q.OrderBy) > 0 {
		clauses = append(clauses, "ORDER BY")
	}
	if q.Limit != nil {
		clauses = append(clauses, "LIMIT")
	}
	if q.Offset != nil {
		clauses = append(clauses, "OFFSET")
	}
	return clauses
}

func buildTree(ctx context.Context, root *describe.Object, baseKey string, paths []metadatatree.PathRef, cache *describe.Cache) (*metadatatree.Tree, error) {
	ctx, span := startSpan(ctx, "restore.build_tree",
		attribute.String("restore.base_key", baseKey),
		attribute.Int("restore.paths", len(paths)),
	)
	defer span.End()

	tree, err := metadatatree.Build(ctx, root, baseKey, paths, cache)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("restore.tree_nodes", tree.Size()))
	return tree, nil
}

func (r *Restorer) record(ctx context.Context, result *Result) {
	diag := result.Diagnostics
	if !diag.Empty() {
		r.logger.Debug("restore diagnostics",
			"root", result.RootObject,
			"missing_fields", diag.MissingFields,
			"missing_subquery_fields", diag.MissingSubqueryFields,
			"missing_misc", diag.MissingMisc,
		)
	}
	if r.metrics == nil {
		return
	}
	r.metrics.RecordTreeNodes(ctx, int64(result.MetadataTree.Size()), "root")
	for _, sub := range result.Subqueries {
		r.metrics.RecordTreeNodes(ctx, int64(sub.Tree.Size()), "subquery")
	}
	r.metrics.RecordFilterRows(ctx, int64(result.Where.rowCount()), "where")
	r.metrics.RecordFilterRows(ctx, int64(result.Having.rowCount()), "having")
	r.metrics.RecordDiagnostics(ctx, int64(len(diag.MissingFields)), "missing_fields")
	subFields := 0
	for _, refs := range diag.MissingSubqueryFields {
		subFields += len(refs)
	}
	r.metrics.RecordDiagnostics(ctx, int64(subFields), "missing_subquery_fields")
	r.metrics.RecordDiagnostics(ctx, int64(len(diag.MissingMisc)), "missing_misc")
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("soqlrestore/restore").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
