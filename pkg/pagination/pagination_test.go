package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/prescriptions"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor("?limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := paramsFor("?limit=500&offset=-3")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if !r.HasMore {
		t.Error("expected has_more")
	}
	r = NewResponse(nil, 20, 20, 0)
	if r.HasMore {
		t.Error("expected no more results")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 20, Offset: 10}
	if p.NextOffset() != 30 {
		t.Errorf("expected 30, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected previous page")
	}
	if (Params{Limit: 20}).HasPrevious() {
		t.Error("first page has no previous")
	}
}

func TestParams_Links(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   []string
	}{
		{"first page", Params{Limit: 10, Offset: 0}, 25, []string{"self", "next"}},
		{"middle page", Params{Limit: 10, Offset: 10}, 25, []string{"self", "next", "previous"}},
		{"last page", Params{Limit: 10, Offset: 20}, 25, []string{"self", "previous"}},
		{"no results", Params{Limit: 10, Offset: 0}, 0, []string{"self"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := tt.params.Links("/api/v1/prescriptions", tt.total)
			if len(links) != len(tt.want) {
				t.Fatalf("expected %d links, got %d", len(tt.want), len(links))
			}
			for i, rel := range tt.want {
				if links[i].Relation != rel {
					t.Errorf("link %d: expected %s, got %s", i, rel, links[i].Relation)
				}
			}
		})
	}

	links := Params{Limit: 10, Offset: 10}.Links("/api/v1/invoices", 25)
	if links[1].URL != "/api/v1/invoices?offset=20&limit=10" {
		t.Errorf("unexpected next url %s", links[1].URL)
	}
}

func TestResponse_WithLinks(t *testing.T) {
	r := NewResponse(nil, 5, 20, 0).WithLinks("/api/v1/prescriptions")
	if len(r.Links) != 1 || r.Links[0].Relation != "self" {
		t.Errorf("unexpected links %+v", r.Links)
	}
}
