package openai

import (
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const defaultTimeoutMin = 10

// EmbeddingClient implements ai.EmbeddingClient against the OpenAI embeddings
// API or any server compatible with it.
//
// An EmbeddingClient should be created using NewEmbeddingClient.
type EmbeddingClient struct {
	ai.MetricsRecorder

	embeddingModel string
	dimensions     int
	timeout        time.Duration

	embeddingLock *semaphore.Weighted

	Client *openai.Client
}

// NewEmbeddingClientParams defines the configuration parameters for creating
// a new EmbeddingClient.
//
// Dimensions, when set, is sent with every request for models that support
// shortened embeddings.
type NewEmbeddingClientParams struct {
	EmbeddingModel string
	Dimensions     int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

// NewEmbeddingClient creates and returns a new EmbeddingClient.
//
// Example:
//
//	client := openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		BaseURL:        "https://api.openai.com/v1",
//		ApiKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewEmbeddingClient(params NewEmbeddingClientParams) *EmbeddingClient {
	options := []option.RequestOption{
		option.WithAPIKey(params.ApiKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

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
		dimensions:     params.Dimensions,
		timeout:        time.Duration(timeoutMin) * time.Minute,
		embeddingLock:  semaphore.NewWeighted(maxReq),
		Client:         &client,
	}
}

func (c *EmbeddingClient) Model() string {
	return c.embeddingModel
}

func (c *EmbeddingClient) Provider() string {
	return "openai"
}
