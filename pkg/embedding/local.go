package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"go.uber.org/zap"
)

// DefaultLocalModel produces 384-dimensional sentence embeddings.
const DefaultLocalModel = "sentence-transformers/all-MiniLM-L6-v2"

// LocalConfig configures the in-process sentence-transformer provider.
type LocalConfig struct {
	ModelName string
	// ModelDir caches downloaded models. Defaults to ./models.
	ModelDir string
}

// LocalProvider embeds with a sentence-transformer model run in-process by
// hugot's pure-Go backend. Calls are serialized.
type LocalProvider struct {
	mu      sync.Mutex
	run     func(texts []string) ([][]float32, error)
	destroy func() error
	logger  *zap.Logger
}

// NewLocalProvider downloads the model if needed and starts a pipeline.
func NewLocalProvider(cfg LocalConfig, logger *zap.Logger) (*LocalProvider, error) {
	logger = logger.Named("embedding-local")

	modelPath, err := prepareModel(cfg, logger)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "registry-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	logger.Info("Local embedding model loaded", zap.String("path", modelPath))

	return &LocalProvider{
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
		destroy: session.Destroy,
		logger:  logger,
	}, nil
}

var _ Provider = (*LocalProvider)(nil)

func prepareModel(cfg LocalConfig, logger *zap.Logger) (string, error) {
	name := cfg.ModelName
	if name == "" {
		name = DefaultLocalModel
	}
	dir := cfg.ModelDir
	if dir == "" {
		dir = "./models"
	}

	modelPath := filepath.Join(dir, strings.ReplaceAll(name, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	logger.Info("Downloading embedding model", zap.String("model", name), zap.String("dir", dir))
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	path, err := hugot.DownloadModel(name, dir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", name, err)
	}
	return path, nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	vectors, err := p.run(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("local model returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (p *LocalProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Close releases the hugot session.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroy == nil {
		return nil
	}
	err := p.destroy()
	p.destroy = nil
	return err
}
