package orderdesk

import (
	"context"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDrafter struct {
	calls    int
	polished string
	err      error
	prompt   string
}

func (s *stubDrafter) Draft(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.polished, nil
}

func testCompany() CompanyInfo {
	return CompanyInfo{
		Name:         "Summit Trail Outfitters",
		ContactEmail: "hello@summittrail.example",
		Phone:        "+1 555 0100",
		PolicyURL:    "https://summittrail.example/returns",
	}
}

func newTestResponder(t *testing.T, drafter Drafter) *Responder {
	t.Helper()
	responder, err := NewResponder(ResponderOptions{
		Company: testCompany(),
		Drafter: drafter,
		Retrier: newTestRetrier(),
		Policy:  Policy{MaxAttempts: 2},
	})
	require.NoError(t, err)
	return responder
}

func partialOrderResult() OrderResult {
	return OrderResult{
		OrderID: "O-1001",
		Status:  OrderPartial,
		Items: []OrderItem{
			{ProductID: "P1", Requested: 5, Fulfilled: 3, Status: ItemPartial},
			{ProductID: "P2", Requested: 2, Fulfilled: 2, Status: ItemAvailable},
		},
	}
}

func TestOrderConfirmation(t *testing.T) {
	responder := newTestResponder(t, nil)
	body, err := responder.OrderConfirmation(context.Background(), partialOrderResult())
	require.NoError(t, err)
	goldie.New(t).Assert(t, "order_confirm", []byte(body))
}

func TestOutOfStockWithAlternatives(t *testing.T) {
	responder := newTestResponder(t, nil)
	body, err := responder.OutOfStock(context.Background(), partialOrderResult(), map[string][]string{
		"P1": {"P1-PRO", "P1-LITE"},
	})
	require.NoError(t, err)
	goldie.New(t).Assert(t, "out_of_stock", []byte(body))
}

func TestOutOfStockWithoutAlternatives(t *testing.T) {
	responder := newTestResponder(t, nil)
	body, err := responder.OutOfStock(context.Background(), partialOrderResult(), nil)
	require.NoError(t, err)
	goldie.New(t).Assert(t, "out_of_stock_no_alternatives", []byte(body))
}

func TestInquiryReply(t *testing.T) {
	responder := newTestResponder(t, nil)
	product := ProductInfo{ID: "P7", Name: "Trail Jacket"}
	body, err := responder.InquiryReply(context.Background(), product, "Water resistant shell with three color options.\n")
	require.NoError(t, err)
	goldie.New(t).Assert(t, "inquiry_response", []byte(body))
}

func TestInquiryReplyFallsBackToProductID(t *testing.T) {
	responder := newTestResponder(t, nil)
	body, err := responder.InquiryReply(context.Background(), ProductInfo{ID: "P7"}, "In stock.")
	require.NoError(t, err)
	assert.Contains(t, body, "about P7!")
}

func TestRenderUsesPolishedDraft(t *testing.T) {
	drafter := &stubDrafter{polished: "Hi! Your order O-1001 is partially on its way.\n"}
	responder := newTestResponder(t, drafter)

	body, err := responder.OrderConfirmation(context.Background(), partialOrderResult())
	require.NoError(t, err)
	assert.Equal(t, "Hi! Your order O-1001 is partially on its way.\n", body)
	assert.Equal(t, 1, drafter.calls)
	assert.Contains(t, drafter.prompt, "- P1: 3 of 5 (partial)")
}

func TestRenderFallsBackWhenDrafterFails(t *testing.T) {
	drafter := &stubDrafter{err: Transient(errors.New("model offline"))}
	responder := newTestResponder(t, drafter)
	plain := newTestResponder(t, nil)

	body, err := responder.OrderConfirmation(context.Background(), partialOrderResult())
	require.NoError(t, err)
	want, err := plain.OrderConfirmation(context.Background(), partialOrderResult())
	require.NoError(t, err)
	assert.Equal(t, want, body)
	assert.Equal(t, 2, drafter.calls, "drafter failures are retried before falling back")
}

func TestRenderFallsBackOnEmptyDraft(t *testing.T) {
	drafter := &stubDrafter{polished: "   \n"}
	responder := newTestResponder(t, drafter)

	body, err := responder.OrderConfirmation(context.Background(), partialOrderResult())
	require.NoError(t, err)
	assert.Contains(t, body, "Thank you for your order!")
}

func TestNewResponderRequiresCompanyName(t *testing.T) {
	_, err := NewResponder(ResponderOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
