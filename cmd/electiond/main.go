// Command electiond runs a single cluster member's leader-election state
// machine over gRPC, publishing its Election State counter on an HTTP
// status endpoint for operators and tests to poll.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vzdtic/clusterelect/pkg/archive"
	"github.com/vzdtic/clusterelect/pkg/election"
	"github.com/vzdtic/clusterelect/pkg/grpctransport"
	"github.com/vzdtic/clusterelect/pkg/recordinglog"
)

func main() {
	id := flag.Int("id", -1, "this member's id")
	addr := flag.String("addr", "", "gRPC listen address (e.g., localhost:5000)")
	httpAddr := flag.String("http", "", "HTTP status address (e.g., localhost:8000)")
	peers := flag.String("peers", "", "comma-separated peer list (id1=addr1,id2=addr2,...), including self")
	dataDir := flag.String("data", "", "directory for the durable recording log")
	appoint := flag.Int("appoint", -1, "member id to appoint as leader, or -1 for a canvassed election")
	startup := flag.Bool("startup", true, "true for the cluster's initial election")
	flag.Parse()

	if *id < 0 || *addr == "" || *httpAddr == "" || *peers == "" {
		flag.Usage()
		os.Exit(1)
	}

	members, peerAddrs, err := parsePeers(*peers)
	if err != nil {
		log.Fatalf("parse peers: %v", err)
	}

	dir := *dataDir
	if dir == "" {
		dir = fmt.Sprintf("/tmp/electiond-%d", *id)
	}

	rl, err := recordinglog.Open(dir)
	if err != nil {
		log.Fatalf("open recording log: %v", err)
	}
	defer rl.Close()

	store := archive.NewStore()
	archiveClient := archive.NewClient(store, 1<<20)

	transport := grpctransport.New(int32(*id), *addr, peerAddrs)
	if err := transport.Start(); err != nil {
		log.Fatalf("start transport: %v", err)
	}
	defer transport.Stop()

	logger := log.New(os.Stderr, fmt.Sprintf("electiond[%d] ", *id), log.LstdFlags)

	host := newProcessHost(logger)

	cfg := election.DefaultConfig()
	if *appoint >= 0 {
		appointee := int32(*appoint)
		cfg.AppointedLeaderID = &appointee
	}

	plan := election.RecoveryPlan{LastAppendedLogPosition: lastLogPosition(rl)}
	fsm := election.New(election.Member{ID: int32(*id)}, members, cfg, plan, transport, rl, archiveClient, host, logger, *startup)

	status := &statusServer{fsm: fsm, host: host}
	httpServer := &http.Server{Addr: *httpAddr, Handler: status}
	go func() {
		logger.Printf("status endpoint listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
runLoop:
	for {
		select {
		case <-ticker.C:
			if err := fsm.Tick(time.Now()); err != nil {
				if err == election.ErrClosed {
					break runLoop
				}
				logger.Printf("tick error: %v", err)
			}
		case <-sigCh:
			break runLoop
		}
	}

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}

// lastLogPosition returns the log position of the most recently recovered
// term record, or 0 if the recording log is empty.
func lastLogPosition(rl *recordinglog.Log) int64 {
	records := rl.Records()
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].LogPosition
}

// parsePeers parses "id1=addr1,id2=addr2,..." into a member roster and a
// peer address map suitable for grpctransport.New.
func parsePeers(spec string) ([]election.Member, map[int32]string, error) {
	peerAddrs := make(map[int32]string)
	var members []election.Member
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, nil, fmt.Errorf("malformed peer entry %q", part)
		}
		id, err := strconv.Atoi(kv[0])
		if err != nil {
			return nil, nil, fmt.Errorf("malformed peer id %q: %w", kv[0], err)
		}
		peerAddrs[int32(id)] = kv[1]
		members = append(members, election.Member{ID: int32(id), Endpoint: kv[1]})
	}
	return members, peerAddrs, nil
}

// processHost is the production election.HostAgent: it has no downstream
// consensus log or client-facing service to drive, so every callback just
// records the fact for the status endpoint and logs it.
type processHost struct {
	logger *log.Logger

	role      election.Role
	isLeader  bool
	completed bool
}

func newProcessHost(logger *log.Logger) *processHost {
	return &processHost{logger: logger}
}

func (h *processHost) Role(r election.Role) {
	h.role = r
	h.logger.Printf("role -> %s", r)
}

func (h *processHost) BecomeLeader() error {
	h.isLeader = true
	h.logger.Println("became leader")
	return nil
}

func (h *processHost) UpdateMemberDetails() {}

func (h *processHost) RecordLogAsFollower(channelURI string, logSessionID int32) error {
	h.logger.Printf("recording as follower on %s (session %d)", channelURI, logSessionID)
	return nil
}

func (h *processHost) AwaitServicesReady(channelURI string, logSessionID int32) error {
	return nil
}

func (h *processHost) CatchupLog(coordinator *election.CatchUpCoordinator) error {
	h.logger.Printf("caught up to leader %d at position %d", coordinator.LeaderID(), coordinator.TargetPosition())
	return nil
}

func (h *processHost) ElectionComplete() error {
	h.completed = true
	h.logger.Println("election complete")
	return nil
}

// statusServer exposes the FSM's Election State counter and a handful of
// other fields as JSON, for operators or a test harness to poll.
type statusServer struct {
	fsm  *election.FSM
	host *processHost
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/status" {
		http.NotFound(w, r)
		return
	}
	state := election.StateInit
	if c := s.fsm.Counter(); c != nil {
		state = c.Get()
	}
	body := map[string]interface{}{
		"epochID":     s.fsm.EpochID().String(),
		"state":       state.String(),
		"term":        s.fsm.LeadershipTermID(),
		"logPosition": s.fsm.LogPosition(),
		"role":        s.host.role.String(),
		"isLeader":    s.host.isLeader,
		"completed":   s.host.completed,
		"done":        s.fsm.Done(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
