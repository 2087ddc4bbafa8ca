package output

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/daemon13/rsyslog/internal/syslog"
)

type mockCloudWatchAPI struct {
	mock.Mock
}

func (m *mockCloudWatchAPI) CreateLogGroup(input *cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	args := m.Called(input)
	return args.Get(0).(*cloudwatchlogs.CreateLogGroupOutput), args.Error(1)
}

func (m *mockCloudWatchAPI) CreateLogStream(input *cloudwatchlogs.CreateLogStreamInput) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	args := m.Called(input)
	return args.Get(0).(*cloudwatchlogs.CreateLogStreamOutput), args.Error(1)
}

func (m *mockCloudWatchAPI) PutLogEvents(input *cloudwatchlogs.PutLogEventsInput) (*cloudwatchlogs.PutLogEventsOutput, error) {
	args := m.Called(input)
	return args.Get(0).(*cloudwatchlogs.PutLogEventsOutput), args.Error(1)
}

func testCWConfig() CloudWatchConfig {
	return CloudWatchConfig{
		Group:  "rsyslogd",
		Stream: "kernel",
		Region: "us-east-1",
	}
}

func newMockWriter(t *testing.T, svc *mockCloudWatchAPI) *CloudWatch {
	t.Helper()
	svc.On("CreateLogGroup", mock.Anything).Return(&cloudwatchlogs.CreateLogGroupOutput{}, nil).Once()
	svc.On("CreateLogStream", mock.Anything).Return(&cloudwatchlogs.CreateLogStreamOutput{}, nil).Once()
	w, err := newCloudWatch(testCWConfig(), svc)
	require.NoError(t, err)
	return w
}

func TestCloudWatchFlushShipsBatch(t *testing.T) {
	svc := &mockCloudWatchAPI{}
	w := newMockWriter(t, svc)

	svc.On("PutLogEvents", mock.MatchedBy(func(in *cloudwatchlogs.PutLogEventsInput) bool {
		return len(in.LogEvents) == 2 &&
			*in.LogGroupName == "rsyslogd" &&
			*in.LogStreamName == "kernel"
	})).Return(&cloudwatchlogs.PutLogEventsOutput{
		NextSequenceToken: aws.String("tok-1"),
	}, nil).Once()

	require.NoError(t, w.Write(&syslog.Message{Time: time.Now(), Text: "one"}))
	require.NoError(t, w.Write(&syslog.Message{Time: time.Now(), Text: "two"}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	svc.AssertExpectations(t)
}

func TestCloudWatchSequenceTokenCarriesOver(t *testing.T) {
	svc := &mockCloudWatchAPI{}
	w := newMockWriter(t, svc)

	svc.On("PutLogEvents", mock.MatchedBy(func(in *cloudwatchlogs.PutLogEventsInput) bool {
		return in.SequenceToken == nil
	})).Return(&cloudwatchlogs.PutLogEventsOutput{
		NextSequenceToken: aws.String("tok-1"),
	}, nil).Once()
	svc.On("PutLogEvents", mock.MatchedBy(func(in *cloudwatchlogs.PutLogEventsInput) bool {
		return in.SequenceToken != nil && *in.SequenceToken == "tok-1"
	})).Return(&cloudwatchlogs.PutLogEventsOutput{
		NextSequenceToken: aws.String("tok-2"),
	}, nil).Once()

	require.NoError(t, w.Write(&syslog.Message{Time: time.Now(), Text: "one"}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Write(&syslog.Message{Time: time.Now(), Text: "two"}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	svc.AssertExpectations(t)
}

func TestCloudWatchResyncsRejectedToken(t *testing.T) {
	svc := &mockCloudWatchAPI{}
	w := newMockWriter(t, svc)

	rejection := &cloudwatchlogs.InvalidSequenceTokenException{
		ExpectedSequenceToken: aws.String("expected-tok"),
	}
	svc.On("PutLogEvents", mock.MatchedBy(func(in *cloudwatchlogs.PutLogEventsInput) bool {
		return in.SequenceToken == nil
	})).Return((*cloudwatchlogs.PutLogEventsOutput)(nil), rejection).Once()
	svc.On("PutLogEvents", mock.MatchedBy(func(in *cloudwatchlogs.PutLogEventsInput) bool {
		return in.SequenceToken != nil && *in.SequenceToken == "expected-tok"
	})).Return(&cloudwatchlogs.PutLogEventsOutput{
		NextSequenceToken: aws.String("tok-2"),
	}, nil).Once()

	require.NoError(t, w.Write(&syslog.Message{Time: time.Now(), Text: "one"}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	svc.AssertExpectations(t)
}

func TestCloudWatchToleratesExistingGroupAndStream(t *testing.T) {
	svc := &mockCloudWatchAPI{}
	exists := awserr.New(cloudwatchlogs.ErrCodeResourceAlreadyExistsException, "already exists", nil)
	svc.On("CreateLogGroup", mock.Anything).Return((*cloudwatchlogs.CreateLogGroupOutput)(nil), exists).Once()
	svc.On("CreateLogStream", mock.Anything).Return((*cloudwatchlogs.CreateLogStreamOutput)(nil), exists).Once()

	w, err := newCloudWatch(testCWConfig(), svc)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	svc.AssertExpectations(t)
}

func TestCloudWatchWriteAfterClose(t *testing.T) {
	svc := &mockCloudWatchAPI{}
	w := newMockWriter(t, svc)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Error(t, w.Write(&syslog.Message{Time: time.Now(), Text: "late"}))
}
