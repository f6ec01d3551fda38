package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultTimeoutMin = 10

// EmbeddingClient implements ai.EmbeddingClient with a locally hosted Ollama
// server.
type EmbeddingClient struct {
	ai.MetricsRecorder

	embeddingModel string
	timeout        time.Duration

	reqLock *semaphore.Weighted

	Client *api.Client
}

// NewEmbeddingClientParams contains configuration options for creating a new EmbeddingClient.
type NewEmbeddingClientParams struct {
	EmbeddingModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewEmbeddingClient connects to the Ollama server at BaseURL (or the
// OLLAMA_HOST default if empty). An ApiKey is sent as bearer token for servers
// behind an authenticating proxy.
func NewEmbeddingClient(params NewEmbeddingClientParams) (*EmbeddingClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{Transport: http.DefaultTransport}
	if params.ApiKey != "" {
		httpClient.Transport = &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		}
	}

	var cli *api.Client
	if u != nil {
		cli = api.NewClient(u, httpClient)
	} else {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 1
	}
	timeoutMin := params.TimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = defaultTimeoutMin
	}

	return &EmbeddingClient{
		embeddingModel: params.EmbeddingModel,
		timeout:        time.Duration(timeoutMin) * time.Minute,
		reqLock:        semaphore.NewWeighted(maxReq),
		Client:         cli,
	}, nil
}

func (c *EmbeddingClient) Model() string {
	return c.embeddingModel
}

func (c *EmbeddingClient) Provider() string {
	return "ollama"
}
