package diagnostics

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/httpclient"
)

// RemoteReporter posts issues to a collector over HTTP. The injection side
// uses it when the collector runs in another process.
type RemoteReporter struct {
	client   *httpclient.Client
	endpoint string
}

// NewRemoteReporter creates a reporter posting to endpoint
func NewRemoteReporter(client *httpclient.Client, endpoint string) *RemoteReporter {
	return &RemoteReporter{client: client, endpoint: endpoint}
}

// ReportScriptIssue implements Reporter
func (r *RemoteReporter) ReportScriptIssue(ctx context.Context, issue ScriptIssue) error {
	resp, err := r.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(issue).Post(r.endpoint)
	})
	if err != nil {
		return fmt.Errorf("report script issue: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("report script issue: collector answered %s", resp.Status())
	}
	return nil
}
