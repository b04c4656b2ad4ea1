package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validOrder() Order {
	return Order{
		ID:          "order-1",
		UserID:      "user-1",
		Status:      OrderStatusPending,
		Currency:    "RUB",
		AmountMinor: 300,
		Items: []OrderLine{
			{ID: "line-1", ProductID: "product-1", Name: "Widget", Qty: 2, PriceMinor: 100},
			{ID: "line-2", ProductID: "product-2", Name: "Gadget", Qty: 1, PriceMinor: 100},
		},
	}
}

func TestValidateInvariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Order)
		want   []error
	}{
		{"valid order", func(o *Order) {}, nil},
		{"missing user", func(o *Order) { o.UserID = "" }, []error{ErrUserRequired}},
		{"missing currency", func(o *Order) { o.Currency = "" }, []error{ErrCurrencyRequired}},
		{
			"no items",
			func(o *Order) { o.Items = nil; o.AmountMinor = 0 },
			[]error{ErrItemsRequired},
		},
		{
			"negative amount",
			func(o *Order) { o.AmountMinor = -1 },
			[]error{ErrAmountNegative, ErrAmountMismatch},
		},
		{
			"zero quantity line",
			func(o *Order) { o.Items[0].Qty = 0; o.AmountMinor = 100 },
			[]error{ErrItemQtyInvalid},
		},
		{
			"negative price line",
			func(o *Order) { o.Items[0].PriceMinor = -100; o.AmountMinor = -100 },
			[]error{ErrAmountNegative, ErrItemPriceInvalid},
		},
		{
			"amount mismatch",
			func(o *Order) { o.AmountMinor = 301 },
			[]error{ErrAmountMismatch},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := validOrder()
			tc.mutate(&order)
			assert.Equal(t, tc.want, order.ValidateInvariants())
		})
	}
}

func TestReservationLines(t *testing.T) {
	order := validOrder()
	assert.Equal(t, []ReservationLine{
		{ProductID: "product-1", Qty: 2},
		{ProductID: "product-2", Qty: 1},
	}, order.ReservationLines())
}
