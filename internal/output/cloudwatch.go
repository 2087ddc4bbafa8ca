package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/cenkalti/backoff/v4"

	"github.com/daemon13/rsyslog/internal/config"
	"github.com/daemon13/rsyslog/internal/logging"
	"github.com/daemon13/rsyslog/internal/syslog"
)

const (
	// PutLogEvents accepts at most 10000 events per batch; we flush far
	// earlier to keep delivery latency low.
	cwMaxBatch      = 512
	cwFlushInterval = 5 * time.Second
)

// CloudWatchConfig configures the CloudWatch Logs writer.
type CloudWatchConfig struct {
	Group   string
	Stream  string
	Region  string
	Profile string
}

// cloudWatchAPI is the subset of the CloudWatch Logs client the writer
// uses, extracted so tests can substitute a mock.
type cloudWatchAPI interface {
	CreateLogGroup(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(*cloudwatchlogs.CreateLogStreamInput) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(*cloudwatchlogs.PutLogEventsInput) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatch batches messages and ships them to a CloudWatch Logs stream.
type CloudWatch struct {
	cfg CloudWatchConfig
	svc cloudWatchAPI
	lim *limiter

	mu      sync.Mutex
	batch   []*cloudwatchlogs.InputLogEvent
	seqTok  *string
	stopped bool

	stop    chan struct{}
	flushed chan struct{}
}

// NewCloudWatch builds the writer, creating the log group and stream if
// they do not exist yet, and starts the background flusher.
func NewCloudWatch(cfg CloudWatchConfig) (*CloudWatch, error) {
	if err := ValidateProfile(cfg.Profile); err != nil {
		return nil, err
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
		Config:            *aws.NewConfig().WithRegion(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newCloudWatch(cfg, cloudwatchlogs.New(sess))
}

func newCloudWatch(cfg CloudWatchConfig, svc cloudWatchAPI) (*CloudWatch, error) {
	w := &CloudWatch{
		cfg:     cfg,
		svc:     svc,
		lim:     newLimiter(config.DefaultRateLimitConfig.RequestsPerSecond),
		stop:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	if err := w.ensureStream(); err != nil {
		return nil, err
	}
	go w.flusher()
	return w, nil
}

func (w *CloudWatch) Name() string { return "cloudwatch" }

// Write buffers the message; a full batch flushes inline so the buffer
// stays bounded even under burst load.
func (w *CloudWatch) Write(m *syslog.Message) error {
	ev := &cloudwatchlogs.InputLogEvent{
		Message:   aws.String(fmt.Sprintf("%s.%s %s", m.Facility, m.Severity, m.String())),
		Timestamp: aws.Int64(m.Time.UnixMilli()),
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("cloudwatch writer closed")
	}
	w.batch = append(w.batch, ev)
	full := len(w.batch) >= cwMaxBatch
	w.mu.Unlock()

	if full {
		return w.Flush()
	}
	return nil
}

// Flush ships the buffered batch now.
func (w *CloudWatch) Flush() error {
	w.mu.Lock()
	batch := w.batch
	w.batch = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return w.put(batch)
}

// Close stops the flusher and delivers whatever is still buffered.
func (w *CloudWatch) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	<-w.flushed
	return w.Flush()
}

func (w *CloudWatch) flusher() {
	defer close(w.flushed)
	ticker := time.NewTicker(cwFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				logging.OutputError(w.Name(), err)
			}
		case <-w.stop:
			return
		}
	}
}

// ensureStream creates the log group and stream, tolerating that either
// already exists.
func (w *CloudWatch) ensureStream() error {
	w.lim.wait("CreateLogGroup")
	_, err := w.svc.CreateLogGroup(&cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(w.cfg.Group),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create log group %q: %w", w.cfg.Group, err)
	}

	w.lim.wait("CreateLogStream")
	_, err = w.svc.CreateLogStream(&cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(w.cfg.Group),
		LogStreamName: aws.String(w.cfg.Stream),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create log stream %q: %w", w.cfg.Stream, err)
	}
	return nil
}

// put ships one batch with bounded exponential backoff, resynchronising
// the sequence token when CloudWatch rejects ours.
func (w *CloudWatch) put(batch []*cloudwatchlogs.InputLogEvent) error {
	op := func() error {
		w.lim.wait("PutLogEvents")

		w.mu.Lock()
		tok := w.seqTok
		w.mu.Unlock()

		out, err := w.svc.PutLogEvents(&cloudwatchlogs.PutLogEventsInput{
			LogEvents:     batch,
			LogGroupName:  aws.String(w.cfg.Group),
			LogStreamName: aws.String(w.cfg.Stream),
			SequenceToken: tok,
		})
		if err != nil {
			if seqErr, ok := err.(*cloudwatchlogs.InvalidSequenceTokenException); ok {
				w.mu.Lock()
				w.seqTok = seqErr.ExpectedSequenceToken
				w.mu.Unlock()
			}
			return err
		}
		w.mu.Lock()
		w.seqTok = out.NextSequenceToken
		w.mu.Unlock()
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.DefaultRateLimitConfig.BaseDelay
	bo.MaxInterval = config.DefaultRateLimitConfig.MaxDelay
	return backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(config.DefaultRateLimitConfig.MaxRetries)))
}

func isAlreadyExists(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == cloudwatchlogs.ErrCodeResourceAlreadyExistsException
	}
	return false
}
