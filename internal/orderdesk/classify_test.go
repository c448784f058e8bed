package orderdesk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	calls    int
	label    string
	err      error
	subjects []string
	messages []string
}

func (s *stubClassifier) Classify(ctx context.Context, subject, message string) (string, error) {
	s.calls++
	s.subjects = append(s.subjects, subject)
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return s.label, nil
}

func newTestDispatcher(t *testing.T, classifier Classifier) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherOptions{
		Classifier: classifier,
		Retrier:    newTestRetrier(),
		Policy:     Policy{MaxAttempts: 2},
		Pacer:      NewPacer(2, 0),
	})
	require.NoError(t, err)
	return dispatcher
}

func TestClassifyEmailCachesByContent(t *testing.T) {
	classifier := &stubClassifier{label: "Order Request"}
	dispatcher := newTestDispatcher(t, classifier)
	ctx := context.Background()

	first, err := dispatcher.ClassifyEmail(ctx, Email{ID: "e1", Subject: "New order", Message: "5x P1 please"})
	require.NoError(t, err)
	// Different email id, identical content.
	second, err := dispatcher.ClassifyEmail(ctx, Email{ID: "e2", Subject: "New order", Message: "5x P1 please"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, classifier.calls, "identical content must be served from cache")

	label, ok := dispatcher.CachedLabel("New order", "5x P1 please")
	assert.True(t, ok)
	assert.Equal(t, DefaultLabels().Order, label)
}

func TestClassifyEmailNormalizesLabelVariants(t *testing.T) {
	labels := DefaultLabels()
	cases := []struct {
		raw  string
		want string
	}{
		{"order request", labels.Order},
		{"ORDER confirmation", labels.Order},
		{"This looks like an order to me.", labels.Order},
		{"product inquiry", labels.Inquiry},
		{"spam", labels.Inquiry},
	}
	for i, tc := range cases {
		classifier := &stubClassifier{label: tc.raw}
		dispatcher := newTestDispatcher(t, classifier)
		label, err := dispatcher.ClassifyEmail(context.Background(), Email{
			ID:      "e1",
			Subject: "subject",
			Message: strings.Repeat("x", i+1),
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, label, "raw label %q", tc.raw)
	}
}

func TestClassifyEmailTruncatesLongInput(t *testing.T) {
	classifier := &stubClassifier{label: "order"}
	dispatcher := newTestDispatcher(t, classifier)

	_, err := dispatcher.ClassifyEmail(context.Background(), Email{
		ID:      "e1",
		Subject: strings.Repeat("s", 5000),
		Message: "  " + strings.Repeat("m", 5000),
	})
	require.NoError(t, err)
	require.Len(t, classifier.subjects, 1)
	assert.Len(t, classifier.subjects[0], defaultMaxClassifierInput)
	assert.Len(t, classifier.messages[0], defaultMaxClassifierInput)
	assert.False(t, strings.HasPrefix(classifier.messages[0], " "), "input is trimmed before truncation")
}

func TestClassifyEmailFailureIsNotCached(t *testing.T) {
	classifier := &stubClassifier{err: Transient(errors.New("rate limited"))}
	dispatcher := newTestDispatcher(t, classifier)
	ctx := context.Background()
	email := Email{ID: "e1", Subject: "hello", Message: "world"}

	_, err := dispatcher.ClassifyEmail(ctx, email)
	require.Error(t, err)
	assert.Equal(t, 2, classifier.calls, "exhausts the retry budget")
	_, ok := dispatcher.CachedLabel("hello", "world")
	assert.False(t, ok)

	classifier.err = nil
	classifier.label = "order"
	label, err := dispatcher.ClassifyEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, DefaultLabels().Order, label)
}

func TestClassifyBatchDegradesFailuresToUnclassified(t *testing.T) {
	classifier := &stubClassifier{err: errors.New("model offline")}
	dispatcher := newTestDispatcher(t, classifier)

	results := dispatcher.ClassifyBatch(context.Background(), []Email{
		{ID: "e1", Subject: "a", Message: "1"},
		{ID: "e2", Subject: "b", Message: "2"},
	})
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, DefaultLabels().Unclassified, result.Label)
		assert.NotEmpty(t, result.Err)
	}
}

func TestClassifyBatchPreservesCallerOrder(t *testing.T) {
	classifier := &stubClassifier{label: "order"}
	dispatcher := newTestDispatcher(t, classifier)

	emails := make([]Email, 5)
	for i := range emails {
		emails[i] = Email{ID: string(rune('a' + i)), Subject: "s", Message: strings.Repeat("m", i+1)}
	}
	results := dispatcher.ClassifyBatch(context.Background(), emails)
	require.Len(t, results, 5)
	for i, result := range results {
		assert.Equal(t, emails[i].ID, result.EmailID)
	}
}

func TestClassifyBatchEmptyInput(t *testing.T) {
	dispatcher := newTestDispatcher(t, &stubClassifier{label: "order"})
	assert.Nil(t, dispatcher.ClassifyBatch(context.Background(), nil))
}

func TestFingerprintSeparatesSubjectFromMessage(t *testing.T) {
	assert.NotEqual(t, fingerprint("ab", ""), fingerprint("a", "b"))
	assert.Equal(t, fingerprint("a", "b"), fingerprint("a", "b"))
}

func TestNewDispatcherRequiresClassifier(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
