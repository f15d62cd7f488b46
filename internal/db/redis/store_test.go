package redis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/veramoney/assistant/internal/db"
)

func TestPing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIndexExists_UnknownIndexMeansAbsent(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "vera:kb:idx")).
		Return(mock.Result(mock.RedisError("Unknown index name")))

	s := NewStoreForTest(c)
	exists, err := s.IndexExists(context.Background(), "vera:kb:idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("expected index to be reported absent")
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.Result(mock.RedisError("Index already exists")))

	s := NewStoreForTest(c)
	def := &db.IndexDefinition{
		Name:     "vera:kb:idx",
		Prefixes: []string{"vera:kb:"},
		Fields: []db.IndexField{
			{Name: "document_type", Type: db.IndexFieldTag},
			{Name: "vector", Type: db.IndexFieldVector, VectorDim: 4},
		},
	}
	if err := s.CreateIndex(context.Background(), def); !errors.Is(err, db.ErrIndexExists) {
		t.Fatalf("expected ErrIndexExists, got %v", err)
	}
}

func TestSearchKNN_ParsesEntriesAndScores(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	reply := mock.Result(mock.RedisArray(
		mock.RedisInt64(2),
		mock.RedisString("vera:kb:history:0"),
		mock.RedisArray(
			mock.RedisString("__content"), mock.RedisString("Vera was founded in 2020"),
			mock.RedisString("document_type"), mock.RedisString("history"),
			mock.RedisString("__vector_score"), mock.RedisString("0.1"),
		),
		mock.RedisString("vera:kb:history:1"),
		mock.RedisArray(
			mock.RedisString("__content"), mock.RedisString("Later years"),
			mock.RedisString("document_type"), mock.RedisString("history"),
			mock.RedisString("__vector_score"), mock.RedisString("0.4"),
		),
	))

	c.EXPECT().Do(gomock.Any(), gomock.Any()).Return(reply)

	s := NewStoreForTest(c)
	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "vera:kb:idx",
		Vector:    []float32{0.1, 0.2, 0.3, 0.4},
		K:         2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Fatalf("unexpected result shape: %+v", res)
	}
	// distance 0.1 → similarity 0.9
	if got := res.Entries[0].Score; got < 0.89 || got > 0.91 {
		t.Errorf("score = %v, want ~0.9", got)
	}
	if _, leaked := res.Entries[0].Fields["__vector_score"]; leaked {
		t.Error("__vector_score should be stripped from fields")
	}
}

func TestBuildKNNQuery(t *testing.T) {
	q := &db.KNNQuery{K: 4}
	if got := buildKNNQuery(q); got != "*=>[KNN 4 @vector $BLOB AS __vector_score]" {
		t.Errorf("unfiltered query = %q", got)
	}

	q.Filter = db.TagFilter{Field: "document_type", Value: "banking_regulation"}
	got := buildKNNQuery(q)
	if !strings.HasPrefix(got, "(@document_type:{banking_regulation})=>") {
		t.Errorf("filtered query = %q", got)
	}
}

func TestVectorToBytes_LittleEndianFloat32(t *testing.T) {
	b := vectorToBytes([]float32{1})
	if len(b) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(b))
	}
	// 1.0 as little-endian float32 is 00 00 80 3F
	if b != "\x00\x00\x80\x3f" {
		t.Errorf("unexpected encoding: %x", b)
	}
}

func TestEscapeTag(t *testing.T) {
	if got := escapeTag("a-b c"); got != `a\-b\ c` {
		t.Errorf("escapeTag = %q", got)
	}
}
