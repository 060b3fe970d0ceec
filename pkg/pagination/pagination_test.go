package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"third page of fifty", "page=3&per_page=50", Params{Page: 3, PerPage: 50, Offset: 100}},
		{"negative page", "page=-1", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"zero page", "page=0&per_page=10", Params{Page: 1, PerPage: 10, Offset: 0}},
		{"non numeric page", "page=last", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"per page at cap", "per_page=100", Params{Page: 1, PerPage: 100, Offset: 0}},
		{"per page clamped", "page=2&per_page=500", Params{Page: 2, PerPage: MaxPerPage, Offset: MaxPerPage}},
		{"zero per page", "per_page=0", Params{Page: 1, PerPage: 20, Offset: 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas?aggregate_id=order-1&"+tc.query, nil)
			assert.Equal(t, tc.want, FromRequest(req))
		})
	}
}

type sagaRow struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestNewResult(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		params    Params
		wantPages int
		wantNext  bool
		wantPrev  bool
	}{
		{"single page", 3, Params{Page: 1, PerPage: 10}, 1, false, false},
		{"middle page", 10, Params{Page: 2, PerPage: 2, Offset: 2}, 5, true, true},
		{"partial last page", 11, Params{Page: 3, PerPage: 5, Offset: 10}, 3, false, true},
		{"first of many", 20, Params{Page: 1, PerPage: 5}, 4, true, false},
		{"no sagas", 0, DefaultParams(), 0, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := NewResult([]sagaRow{{ID: "saga-1", Status: "COMPLETED"}}, tc.total, tc.params)

			assert.Equal(t, tc.total, res.TotalCount)
			assert.Equal(t, tc.wantPages, res.TotalPages)
			assert.Equal(t, tc.wantNext, res.HasNext)
			assert.Equal(t, tc.wantPrev, res.HasPrev)
		})
	}
}

func TestNewResult_NilDataEncodesAsEmptyArray(t *testing.T) {
	res := NewResult[sagaRow](nil, 0, DefaultParams())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":[]`)
}
