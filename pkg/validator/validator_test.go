package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createOrder mirrors the order service's POST body.
type createOrder struct {
	StockID  string `json:"stock_id" validate:"required,max=16,excludesall=0x7C"`
	Quantity int64  `json:"quantity" validate:"required,gt=0,lte=1000"`
}

type sagaFilter struct {
	AggregateID string `json:"aggregate_id" validate:"required,uuid"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=RUNNING COMPENSATING COMPLETED FAILED"`
	Page        int    `json:"page" validate:"gte=1"`
	Internal    string `json:"-" validate:"max=2"`
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(createOrder{StockID: "sku-1", Quantity: 2}))
	assert.NoError(t, Validate(sagaFilter{AggregateID: "3f1c9a7e-5b2d-4c8e-9f10-2a6b7c8d9e01", Page: 1}))
}

func TestValidate_FieldMessages(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		field string
		msg   string
	}{
		{"missing stock id", createOrder{Quantity: 1}, "stock_id", "is required"},
		{"separator in stock id", createOrder{StockID: "sku|1", Quantity: 1}, "stock_id", `must not contain any of "|"`},
		{"stock id too long", createOrder{StockID: strings.Repeat("s", 17), Quantity: 1}, "stock_id", "must be at most 16 characters"},
		{"zero quantity", createOrder{StockID: "sku-1"}, "quantity", "is required"},
		{"negative quantity", createOrder{StockID: "sku-1", Quantity: -3}, "quantity", "must be greater than 0"},
		{"quantity over cap", createOrder{StockID: "sku-1", Quantity: 1001}, "quantity", "must be less than or equal to 1000"},
		{"aggregate id not uuid", sagaFilter{AggregateID: "order-1", Page: 1}, "aggregate_id", "must be a valid UUID"},
		{"unknown saga status", sagaFilter{AggregateID: "3f1c9a7e-5b2d-4c8e-9f10-2a6b7c8d9e01", Status: "PAUSED", Page: 1}, "status", "must be one of: RUNNING COMPENSATING COMPLETED FAILED"},
		{"page below one", sagaFilter{AggregateID: "3f1c9a7e-5b2d-4c8e-9f10-2a6b7c8d9e01"}, "page", "must be greater than or equal to 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := fieldErrors(t, Validate(tc.in))
			assert.Equal(t, tc.msg, fields[tc.field])
		})
	}
}

func TestValidate_JSONDashKeepsGoName(t *testing.T) {
	fields := fieldErrors(t, Validate(sagaFilter{
		AggregateID: "3f1c9a7e-5b2d-4c8e-9f10-2a6b7c8d9e01", Page: 1, Internal: "abc",
	}))
	assert.Contains(t, fields, "Internal")
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(createOrder{})

	fields := fieldErrors(t, err)
	assert.Len(t, fields, 2)
	assert.Contains(t, err.Error(), "field 'stock_id' is required")
	assert.Contains(t, err.Error(), "; ")
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantField string
	}{
		{"valid", `{"stock_id":"sku-1","quantity":2}`, false, ""},
		{"malformed json", `{"stock_id":`, true, ""},
		{"trailing document", `{"stock_id":"sku-1","quantity":2}{"stock_id":"sku-2","quantity":1}`, true, ""},
		{"fails validation", `{"stock_id":"sku-1","quantity":0}`, true, "quantity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tc.body))

			var dst createOrder
			err := DecodeAndValidate(req, &dst)

			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, createOrder{StockID: "sku-1", Quantity: 2}, dst)
				return
			}
			require.Error(t, err)
			if tc.wantField != "" {
				assert.Contains(t, fieldErrors(t, err), tc.wantField)
			} else {
				assert.Contains(t, err.Error(), "decode request body")
			}
		})
	}
}
