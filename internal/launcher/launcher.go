package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Launcher runs the ranks of one sieve as Docker containers
type Launcher struct {
	cli        *client.Client
	mu         sync.Mutex
	containers map[int]string // rank -> container ID
}

// NewLauncher initializes the Docker client from the environment
func NewLauncher() (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Launcher{cli: cli, containers: make(map[int]string)}, nil
}

// CheckConnectivity verifies we can talk to the Docker daemon
func (l *Launcher) CheckConnectivity(ctx context.Context) error {
	info, err := l.cli.Info(ctx)
	if err != nil {
		return fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}
	log.Printf("[Launcher] Docker daemon connected: %s (CPUs: %d)", info.Name, info.NCPU)
	return nil
}

// Run starts every rank, waits for all of them to exit and copies rank 0's
// output to stdout and stderr. Containers are removed before returning.
func (l *Launcher) Run(ctx context.Context, specs []RankSpec, stdout, stderr io.Writer) error {
	defer l.removeAll()

	for _, spec := range specs {
		if err := l.start(ctx, spec); err != nil {
			return err
		}
	}

	codes := make([]int64, len(specs))
	errs := make([]error, len(specs))
	var (
		wg       sync.WaitGroup
		stopOnce sync.Once
	)
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, rank int) {
			defer wg.Done()
			codes[i], errs[i] = l.wait(ctx, rank)
			if errs[i] != nil || codes[i] != 0 {
				// One failed rank fails the run
				stopOnce.Do(func() { l.killOthers(ctx, rank) })
			}
		}(i, spec.Rank)
	}
	wg.Wait()

	if err := l.copyLogs(ctx, 0, stdout, stderr); err != nil {
		log.Printf("[Launcher] Cannot read rank 0 output: %v", err)
	}

	var failures []error
	for i, spec := range specs {
		switch {
		case errs[i] != nil:
			failures = append(failures, fmt.Errorf("rank %d: %w", spec.Rank, errs[i]))
		case codes[i] != 0:
			failures = append(failures, fmt.Errorf("rank %d exited with status %d", spec.Rank, codes[i]))
			if spec.Rank != 0 {
				l.copyLogs(ctx, spec.Rank, io.Discard, stderr)
			}
		}
	}
	return errors.Join(failures...)
}

func (l *Launcher) start(ctx context.Context, spec RankSpec) error {
	log.Printf("[Launcher] Spawning rank %d (cpuset %q) -> port %d",
		spec.Rank, spec.Host.Resources.CpusetCpus, spec.HostPort)

	resp, err := l.cli.ContainerCreate(ctx, spec.Config, spec.Host, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create rank %d failed: %w", spec.Rank, err)
	}

	l.mu.Lock()
	l.containers[spec.Rank] = resp.ID
	l.mu.Unlock()

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start rank %d failed: %w", spec.Rank, err)
	}
	return nil
}

// killOthers stops every container except the failed rank's, keeping
// them for log collection and removal
func (l *Launcher) killOthers(ctx context.Context, failed int) {
	l.mu.Lock()
	ids := make(map[int]string, len(l.containers))
	for rank, id := range l.containers {
		if rank != failed {
			ids[rank] = id
		}
	}
	l.mu.Unlock()

	log.Printf("[Launcher] Rank %d failed, stopping %d remaining rank(s)", failed, len(ids))
	for rank, id := range ids {
		if err := l.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
			// Already exited
			log.Printf("[Launcher] Kill rank %d: %v", rank, err)
		}
	}
}

func (l *Launcher) wait(ctx context.Context, rank int) (int64, error) {
	id := l.containerID(rank)
	statusCh, errCh := l.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return -1, err
	}
}

func (l *Launcher) copyLogs(ctx context.Context, rank int, stdout, stderr io.Writer) error {
	id := l.containerID(rank)
	if id == "" {
		return fmt.Errorf("rank %d has no container", rank)
	}
	logs, err := l.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

func (l *Launcher) containerID(rank int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.containers[rank]
}

// removeAll force-removes every container this launcher created
func (l *Launcher) removeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for rank, id := range l.containers {
		if err := l.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("[Launcher] Failed to remove rank %d container %s: %v", rank, id[:12], err)
			continue
		}
		delete(l.containers, rank)
	}
}

// Close releases the Docker client
func (l *Launcher) Close() error {
	return l.cli.Close()
}
