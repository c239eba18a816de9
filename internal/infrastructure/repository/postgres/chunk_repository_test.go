package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

var chunkRowColumns = []string{"id", "content", "contextual_content", "category", "metadata", "parent_id", "content_hash"}

func newRepoWithMock(t *testing.T) (*ChunkRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewChunkRepository(db, "english"), mock, func() { _ = db.Close() }
}

func TestSearchVectorAppliesFilterAndCutoff(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(append(chunkRowColumns, "similarity")).
		AddRow("c-1", "Bhishma took the vow", nil, "scripture", []byte(`{"type":"child","parva":"Adi","verse":"7"}`), "p-1", "h1", 0.91).
		AddRow("c-2", "Ganga's son", "ctx", "scripture", []byte(`{}`), nil, nil, 0.72)

	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) AS similarity.*AND category = \$2 AND \(embedding <=> \$1::vector\) <= \$3 ORDER BY embedding <=> \$1::vector, seq LIMIT \$4`).
		WithArgs("[0.5,-0.25]", "scripture", 0.4, 8).
		WillReturnRows(rows)

	hits, err := repo.SearchVector(context.Background(), domain.VectorQuery{
		Vector:        []float32{0.5, -0.25},
		Limit:         8,
		Filter:        domain.SearchFilter{Category: "scripture"},
		MinSimilarity: 0.6,
	})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	first := hits[0]
	if first.ID != "c-1" || first.Score != 0.91 || first.ParentID != "p-1" || first.ContentHash != "h1" {
		t.Fatalf("unexpected first hit %+v", first)
	}
	if first.Metadata.Type != domain.ChunkTypeChild || first.Metadata.Parva != "Adi" {
		t.Fatalf("unexpected metadata %+v", first.Metadata)
	}
	if first.Metadata.Extra["verse"] != "7" {
		t.Fatalf("expected unknown metadata kept in Extra, got %+v", first.Metadata.Extra)
	}
	if hits[1].ContextualContent != "ctx" || hits[1].ParentID != "" {
		t.Fatalf("unexpected second hit %+v", hits[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchVectorWithoutOptionalClauses(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`WHERE embedding IS NOT NULL ORDER BY embedding <=> \$1::vector, seq LIMIT \$2`).
		WithArgs("[1]", 4).
		WillReturnRows(sqlmock.NewRows(append(chunkRowColumns, "similarity")))

	hits, err := repo.SearchVector(context.Background(), domain.VectorQuery{Vector: []float32{1}, Limit: 4})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchKeywordJoinsTermsAsDisjunction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(append(chunkRowColumns, "rank")).
		AddRow("c-9", "Krishna spoke to Arjuna", nil, "scripture", []byte(`{"type":"parent"}`), nil, nil, 0.061)

	mock.ExpectQuery(`ts_rank\(search_vector, query\).*to_tsquery\(\$1::regconfig, \$2\).*ORDER BY rank DESC, seq LIMIT \$3`).
		WithArgs("english", "krishna | vasudeva", 20).
		WillReturnRows(rows)

	hits, err := repo.SearchKeyword(context.Background(), domain.KeywordQuery{Terms: []string{"krishna", "vasudeva"}, Limit: 20})
	if err != nil {
		t.Fatalf("SearchKeyword() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Score != 0.061 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchKeywordEmptyTermsSkipsQuery(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	hits, err := repo.SearchKeyword(context.Background(), domain.KeywordQuery{Limit: 5})
	if err != nil || hits != nil {
		t.Fatalf("expected nil result, got %v %v", hits, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchKeywordWrapsStoreError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM corpus_chunks").WillReturnError(errors.New("connection reset"))

	_, err := repo.SearchKeyword(context.Background(), domain.KeywordQuery{Terms: []string{"karna"}, Limit: 5, Filter: domain.SearchFilter{Category: "commentary"}})
	if !domain.IsKind(err, domain.ErrChunkStore) {
		t.Fatalf("expected ErrChunkStore, got %v", err)
	}
}

func TestGetByIDsBatchesLookup(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(chunkRowColumns).
		AddRow("p-1", "parent one", nil, "scripture", []byte(`{"type":"parent","chapter":"12"}`), nil, nil)

	mock.ExpectQuery(`WHERE id IN \(\$1, \$2\)`).
		WithArgs("p-1", "p-2").
		WillReturnRows(rows)

	got, err := repo.GetByIDs(context.Background(), []string{"p-1", "p-2"})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(got) != 1 || got["p-1"].Metadata.Chapter != "12" {
		t.Fatalf("unexpected lookup result %+v", got)
	}
	if _, ok := got["p-2"]; ok {
		t.Fatalf("missing id must be absent")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`embedding vector\(768\).*to_tsvector\('english'::regconfig`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background(), 768); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewChunkRepositoryRejectsUnsafeTextConfig(t *testing.T) {
	repo := NewChunkRepository(nil, "english'); DROP TABLE x; --")
	if repo.textConfig != "english" {
		t.Fatalf("expected fallback to english, got %q", repo.textConfig)
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := vectorLiteral([]float32{0.1, 2, -3.5}); got != "[0.1,2,-3.5]" {
		t.Fatalf("unexpected literal %s", got)
	}
}

func TestListEmbeddedPagesBySeq(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(append(chunkRowColumns, "seq", "embedding")).
		AddRow("c-3", "Drona teaches archery", nil, "encyclopedia", []byte(`{}`), nil, "h3", int64(11), "[0.25,-1,0.5]")

	mock.ExpectQuery(`SELECT .*seq, embedding::text FROM corpus_chunks WHERE seq > \$1 AND embedding IS NOT NULL ORDER BY seq LIMIT \$2`).
		WithArgs(int64(10), 100).
		WillReturnRows(rows)

	items, err := repo.ListEmbedded(context.Background(), 10, 100)
	if err != nil {
		t.Fatalf("ListEmbedded() error = %v", err)
	}
	if len(items) != 1 || items[0].Seq != 11 || items[0].Chunk.ID != "c-3" {
		t.Fatalf("unexpected items %+v", items)
	}
	want := []float32{0.25, -1, 0.5}
	for i, v := range want {
		if items[0].Vector[i] != v {
			t.Fatalf("vector[%d] = %v, want %v", i, items[0].Vector[i], v)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestParseVectorLiteralRejectsGarbage(t *testing.T) {
	if _, err := parseVectorLiteral("0.1,0.2"); err == nil {
		t.Fatalf("expected error for missing brackets")
	}
	if _, err := parseVectorLiteral("[0.1,x]"); err == nil {
		t.Fatalf("expected error for non-numeric component")
	}
}
