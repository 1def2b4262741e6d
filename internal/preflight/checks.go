package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"docflow/internal/config"
	"docflow/internal/services/entity"
	"docflow/internal/services/llm"
	"docflow/internal/services/ocr"
)

const serviceCheckTimeout = 5 * time.Second

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt.
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	})
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckOCR probes the HTTP OCR service health endpoint.
func CheckOCR(ctx context.Context, baseURL string) Result {
	const name = "OCR service"
	if strings.TrimSpace(baseURL) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()
	if err := ocr.NewClient(ocr.Config{BaseURL: baseURL}).HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", baseURL, summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: baseURL}
}

// CheckEntityService probes the entity lookup service health endpoint.
func CheckEntityService(ctx context.Context, baseURL string) Result {
	const name = "Entity service"
	if strings.TrimSpace(baseURL) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()
	if err := entity.NewClient(entity.Config{BaseURL: baseURL}).HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", baseURL, summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: baseURL}
}

// CheckRedis pings the Redis server used by the event sink.
func CheckRedis(ctx context.Context, addr, password string, db int) Result {
	const name = "Redis"
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, serviceCheckTimeout)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", addr, summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: addr}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (unreachable)"
	}
	return err.Error()
}
