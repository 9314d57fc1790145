package errors

import (
	"bytes"
	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/wallet-sync/pkg/errors/reporter"
	"moff.io/wallet-sync/pkg/log"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

func init() {
	if os.Getenv(debugMode) == "" {
		log.Debug("Env DEBUG not set, report errors enabled.")
	} else {
		log.Debug("Env DEBUG set, report errors disabled.")
	}
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

func register(r Reporter) {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// Reporter sends errors to an external channel.
type Reporter interface {
	Report(error)
}

// stackOf returns the stack recorded by the outermost stack-carrying error in
// the chain, falling back to the reporting call site.
func stackOf(err error) []string {
	var ws *withStack
	if As(err, &ws) {
		if frames := ws.stack.fullStack(); len(frames) > 0 {
			return frames
		}
	}
	return callers().fullStack()
}

// stackKey is the frame used to group repeated errors for rate limiting.
func stackKey(frames []string) string {
	if len(frames) == 0 {
		return "unknown"
	}
	return frames[0]
}

type sentryReporter struct {
}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// Setting this env disables every reporter.
const debugMode = "DEBUG"

// NewSentryReporter registers a reporter pushing errors to the sentry project
// behind sentryDSN. An empty DSN is skipped.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	sentryClientOptions := sentry.ClientOptions{
		Dsn: sentryDSN,
	}

	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}

	sentryClientOptions.CaCerts = rootCAs
	err = sentry.Init(sentryClientOptions)
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	register(&sentryReporter{})
	return nil
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	reporter.DingTalkRobot
}

// NewDingTalkReporter registers a dingtalk robot reporter. Errors raised from
// the same frame are reported at most once per reportDelay.
func NewDingTalkReporter(webhook, secret string, reportDelay time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	register(&dingTalkRobotReporter{limiter: newRateLimiter(reportDelay), DingTalkRobot: robot})
	log.Info("dingtalk error reporter initialized.")
}

const (
	errorField  = "error: "
	stacksField = "\nstacks:\n"
	breakline   = "\n"
	indent      = "	"
)

func (r *dingTalkRobotReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := stackOf(err)
	limited, stats := r.limiter.StackBasedRateLimited(stackKey(stacks))
	if limited {
		return
	}
	var content bytes.Buffer
	content.WriteString("last report:")
	content.WriteString(formatReportTime(stats.lastReportTime))
	content.WriteString(breakline)
	content.WriteString("occur since last report:")
	content.WriteString(strconv.Itoa(stats.occurCountSinceLastReport))
	content.WriteString(breakline)
	content.WriteString(errorField)
	content.WriteString(err.Error())
	content.WriteString(stacksField)
	for _, s := range stacks {
		content.WriteString(indent)
		content.WriteString(s)
		content.WriteString(breakline)
	}
	if err := r.SendText(content.String(), nil, true); err != nil {
		log.Info(err)
	}
}
