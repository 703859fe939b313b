package delivery

import (
	"errors"
	"testing"
)

func TestQuery_QueryStringIsCanonical(t *testing.T) {
	a := NewQuery().SetContentType("page").SetLimit(10).Where("fields.slug", "/about")
	b := NewQuery().Where("fields.slug", "/about").SetLimit(10).SetContentType("page")

	if a.QueryString() != b.QueryString() {
		t.Errorf("QueryString differs: %q vs %q", a.QueryString(), b.QueryString())
	}
	want := "content_type=page&fields.slug=%2Fabout&limit=10"
	if got := a.QueryString(); got != want {
		t.Errorf("QueryString() = %q, want %q", got, want)
	}
}

func TestQuery_CloneIsIndependent(t *testing.T) {
	q := NewQuery().SetContentType("page").SetLimit(5)
	c := q.Clone().Select("sys.id").SetLimit(1000)

	if q.Limit() != 5 {
		t.Errorf("original Limit() = %d, want 5", q.Limit())
	}
	if q.Params().Get("select") != "" {
		t.Error("original query should not carry the select parameter")
	}
	if c.Limit() != 1000 || c.ContentType() != "page" {
		t.Errorf("clone = %q", c.QueryString())
	}
}

func TestQuery_WhereIn(t *testing.T) {
	q := NewQuery().WhereIn("sys.id", []string{"a", "b"})
	if got := q.Params().Get("sys.id[in]"); got != "a,b" {
		t.Errorf("sys.id[in] = %q, want a,b", got)
	}
}

func TestParseQuery_RoundTrip(t *testing.T) {
	q := NewQuery().SetContentType("page").SetInclude(2).OrderBy("-sys.createdAt")

	parsed, err := ParseQuery(q.QueryString())
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if parsed.QueryString() != q.QueryString() {
		t.Errorf("ParseQuery() = %q, want %q", parsed.QueryString(), q.QueryString())
	}

	if _, err := ParseQuery("%zz"); err == nil {
		t.Error("ParseQuery() should reject malformed input")
	}
}

func TestEntry_Field(t *testing.T) {
	ct := &ContentType{ID: "page", Fields: []Field{
		{ID: "title"}, {ID: "hidden", Omitted: true}, {ID: "link"}, {ID: "list"}, {ID: "empty"},
	}}
	target := NewEntry(System{ID: "t"}, ct, nil)
	e := NewEntry(System{ID: "e"}, ct, map[string]Value{
		"title": Scalar{V: "Hello"},
		"link":  &Link{ID: "x", LinkType: "Entry"},
		"list":  List{target, &Link{ID: "y", LinkType: "Entry"}},
	})

	if got := e.ContentTypeID(); got != "page" {
		t.Errorf("ContentTypeID() = %q, want page", got)
	}
	if ids := e.FieldIDs(); len(ids) != 4 {
		t.Errorf("FieldIDs() = %v, omitted field should be skipped", ids)
	}
	if got := e.FieldString("title"); got != "Hello" {
		t.Errorf("FieldString(title) = %q", got)
	}
	if v, err := e.Field("empty"); v != nil || err != nil {
		t.Errorf("Field(empty) = %v, %v; want nil, nil", v, err)
	}
	if _, err := e.Field("nope"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Field(nope) error = %v, want ErrUnknownField", err)
	}
	if _, err := e.Field("link"); !errors.Is(err, ErrUnresolvedLink) {
		t.Errorf("Field(link) error = %v, want ErrUnresolvedLink", err)
	}

	v, err := e.Field("list")
	if err != nil {
		t.Fatalf("Field(list) error = %v", err)
	}
	if list := v.(List); len(list) != 1 || list[0] != Value(target) {
		t.Errorf("Field(list) = %#v, want the resolved entry only", v)
	}
}

func TestEntry_FieldIDsWithoutContentType(t *testing.T) {
	e := NewEntry(System{ID: "e"}, nil, map[string]Value{"b": Scalar{V: 1.0}, "a": Scalar{V: 2.0}})
	ids := e.FieldIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("FieldIDs() = %v, want [a b]", ids)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
