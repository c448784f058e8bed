package orderdesk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const defaultMaxClassifierInput = 2000

// Email is one inbound message. The optional Order payload is present
// when the upstream source already extracted structured order intent.
type Email struct {
	ID      string        `json:"id"`
	Subject string        `json:"subject"`
	Message string        `json:"message"`
	Order   *OrderRequest `json:"order,omitempty"`
}

// EmailSource supplies inbound emails and archives the ones a pass has
// finished with.
type EmailSource interface {
	Load(ctx context.Context) ([]Email, error)
	Archive(ctx context.Context, emailID string) error
}

// Classifier is the external labeling collaborator: free text in, free
// text label out. Implementations are expected to be slow and
// unreliable; the dispatcher owns retry and caching around them.
type Classifier interface {
	Classify(ctx context.Context, subject, message string) (string, error)
}

// Labels are the normalized classification outcomes.
type Labels struct {
	Order        string
	Inquiry      string
	Unclassified string
}

func DefaultLabels() Labels {
	return Labels{
		Order:        "order request",
		Inquiry:      "product inquiry",
		Unclassified: "unclassified",
	}
}

func (l Labels) normalized() Labels {
	defaults := DefaultLabels()
	if l.Order == "" {
		l.Order = defaults.Order
	}
	if l.Inquiry == "" {
		l.Inquiry = defaults.Inquiry
	}
	if l.Unclassified == "" {
		l.Unclassified = defaults.Unclassified
	}
	return l
}

type ClassificationResult struct {
	EmailID string `json:"email_id"`
	Label   string `json:"category"`
	Err     string `json:"error,omitempty"`
}

type DispatcherOptions struct {
	Classifier Classifier
	Logger     *zap.Logger
	Retrier    *Retrier
	Policy     Policy
	Pacer      *Pacer
	Labels     Labels
	MaxInput   int
}

// Dispatcher feeds emails to the classifier collaborator behind a
// duplicate-suppression cache keyed by a content fingerprint, so
// textually identical emails reuse the prior label without another
// remote call.
type Dispatcher struct {
	classifier Classifier
	logger     *zap.Logger
	retrier    *Retrier
	policy     Policy
	pacer      *Pacer
	labels     Labels
	maxInput   int

	cache map[string]string
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(opts.Logger)
	}
	if opts.MaxInput <= 0 {
		opts.MaxInput = defaultMaxClassifierInput
	}
	return &Dispatcher{
		classifier: opts.Classifier,
		logger:     opts.Logger,
		retrier:    opts.Retrier,
		policy:     opts.Policy,
		pacer:      opts.Pacer,
		labels:     opts.Labels.normalized(),
		maxInput:   opts.MaxInput,
		cache:      map[string]string{},
	}, nil
}

func (d *Dispatcher) Labels() Labels {
	return d.labels
}

// fingerprint is the deterministic cache key over subject and message.
func fingerprint(subject, message string) string {
	sum := sha256.Sum256([]byte(subject + "\x00" + message))
	return hex.EncodeToString(sum[:])
}

func (d *Dispatcher) truncate(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > d.maxInput {
		return text[:d.maxInput]
	}
	return text
}

// normalizeLabel absorbs phrasing variance from the collaborator by
// substring containment rather than exact match: any label mentioning
// "order" maps to the order label, everything else to inquiry.
func (d *Dispatcher) normalizeLabel(raw string) string {
	if strings.Contains(strings.ToLower(raw), "order") {
		return d.labels.Order
	}
	return d.labels.Inquiry
}

// ClassifyEmail labels one email, serving repeats from the cache. On a
// miss the collaborator call goes through the retry wrapper; an
// exhausted retry is returned to the caller, who decides whether to
// degrade.
func (d *Dispatcher) ClassifyEmail(ctx context.Context, email Email) (string, error) {
	key := fingerprint(email.Subject, email.Message)
	if label, ok := d.cache[key]; ok {
		return label, nil
	}

	subject := d.truncate(email.Subject)
	message := d.truncate(email.Message)

	var raw string
	err := d.retrier.Do(ctx, d.policy, "email:"+email.ID, func(ctx context.Context) error {
		var classifyErr error
		raw, classifyErr = d.classifier.Classify(ctx, subject, message)
		return classifyErr
	})
	if err != nil {
		return "", err
	}

	label := d.normalizeLabel(raw)
	d.cache[key] = label
	return label, nil
}

// ClassifyBatch labels emails in caller order, chunked by the pacing
// policy. A single failure never aborts the batch: the email is
// recorded under the unclassified sentinel with the error text and the
// rest continue.
func (d *Dispatcher) ClassifyBatch(ctx context.Context, emails []Email) []ClassificationResult {
	if len(emails) == 0 {
		return nil
	}
	results := make([]ClassificationResult, 0, len(emails))
	batchSize := d.pacer.BatchSize()

	for start := 0; start < len(emails); start += batchSize {
		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}
		for _, email := range emails[start:end] {
			label, err := d.ClassifyEmail(ctx, email)
			if err != nil {
				d.logger.Warn("classification failed",
					zap.String("email_id", email.ID),
					zap.Error(err))
				results = append(results, ClassificationResult{
					EmailID: email.ID,
					Label:   d.labels.Unclassified,
					Err:     err.Error(),
				})
				continue
			}
			results = append(results, ClassificationResult{EmailID: email.ID, Label: label})
		}
		if err := d.pacer.Pause(ctx); err != nil {
			return results
		}
	}
	return results
}

// CachedLabel exposes the cache for observability and tests.
func (d *Dispatcher) CachedLabel(subject, message string) (string, bool) {
	label, ok := d.cache[fingerprint(subject, message)]
	return label, ok
}
