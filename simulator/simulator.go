package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SimConfig struct {
	NumUsers         int
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per user per hour
	ReadFrequency    float64 // read receipts per user per hour
	HideRate         float64 // fraction of users that hide a thread during the run
	ZipfS            float64 // peer popularity skew
	ServerURL        string
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	TotalMessages    int
	TotalReads       int
	TotalHides       int
	RequestLatencies []time.Duration
}

// Track simulated users and the threads they participate in
type SimulatedUser struct {
	ID          uuid.UUID
	Username    string
	Token       string
	IsConnected bool
	LastActive  time.Time
	Threads     []uuid.UUID
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	zipf   *rand.Zipf
	mu     sync.RWMutex
}

func NewSimulator(config SimConfig) *Simulator {
	src := rand.NewSource(time.Now().UnixNano())
	return &Simulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		zipf: rand.NewZipf(rand.New(src), config.ZipfS, 1, uint64(config.NumUsers-1)),
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	log.Printf("Starting chat simulation...")

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.SimulateActivities(ctx); err != nil {
			log.Printf("Activities simulation error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *Simulator) initialize(ctx context.Context) error {
	log.Printf("Phase 1: Creating %d users...", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create initial users: %v", err)
	}

	log.Printf("Phase 2: Opening conversations...")
	if err := s.openInitialThreads(ctx); err != nil {
		return fmt.Errorf("failed to open conversations: %v", err)
	}

	log.Printf("Initialization completed successfully")
	return nil
}

func (s *Simulator) createInitialUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)

	for i := 0; i < s.config.NumUsers; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		user := &SimulatedUser{
			Username:    fmt.Sprintf("sim_user_%d_%d", time.Now().UnixNano()%100000, i),
			IsConnected: true,
			LastActive:  time.Now(),
		}
		if err := s.registerUser(user); err != nil {
			log.Printf("Failed to register user %s: %v", user.Username, err)
			continue
		}
		s.users = append(s.users, user)
	}

	if len(s.users) == 0 {
		return fmt.Errorf("no users registered")
	}
	log.Printf("Registered %d users", len(s.users))
	return nil
}

func (s *Simulator) registerUser(user *SimulatedUser) error {
	start := time.Now()
	body, err := s.makeRequest(http.MethodPost, "/auth/register", "", map[string]string{
		"username": user.Username,
		"email":    user.Username + "@simulated.local",
		"password": "simulated-password",
	})
	s.recordRequestMetrics(start, err)
	if err != nil {
		return err
	}

	var registered struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(body, &registered); err != nil {
		return err
	}
	user.ID = registered.ID

	start = time.Now()
	body, err = s.makeRequest(http.MethodPost, "/auth/login", "", map[string]string{
		"username": user.Username,
		"password": "simulated-password",
	})
	s.recordRequestMetrics(start, err)
	if err != nil {
		return err
	}

	var login struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return err
	}
	if !login.Success {
		return fmt.Errorf("login rejected for %s", user.Username)
	}
	user.Token = login.Token
	return nil
}

// openInitialThreads pairs every user with a few peers. Peer choice is
// Zipf-skewed so a handful of popular users accumulate most conversations,
// which is what real messaging graphs look like.
func (s *Simulator) openInitialThreads(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		numPeers := 1 + rand.Intn(3)
		for i := 0; i < numPeers; i++ {
			peer := s.users[s.zipf.Uint64()%uint64(len(s.users))]
			if peer.ID == user.ID {
				continue
			}

			start := time.Now()
			body, err := s.makeRequest(http.MethodPost, "/threads", user.Token, map[string]string{
				"otherUserId": peer.ID.String(),
			})
			s.recordRequestMetrics(start, err)
			if err != nil {
				log.Printf("Failed to open thread for %s: %v", user.Username, err)
				continue
			}

			var created struct {
				ThreadID uuid.UUID `json:"threadId"`
			}
			if err := json.Unmarshal(body, &created); err != nil {
				continue
			}
			user.Threads = append(user.Threads, created.ThreadID)
			peer.Threads = append(peer.Threads, created.ThreadID)
		}
	}
	return nil
}

func (s *Simulator) makeRequest(method, endpoint, token string, data interface{}) ([]byte, error) {
	var payload io.Reader
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, s.config.ServerURL+endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, endpoint, resp.StatusCode, string(body))
	}
	return body, nil
}

func (s *Simulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, time.Since(start))
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stats.mu.RLock()
			log.Printf("Simulation progress: requests=%d ok=%d failed=%d messages=%d reads=%d hides=%d",
				s.stats.TotalRequests,
				s.stats.SuccessRequests,
				s.stats.FailedRequests,
				s.stats.TotalMessages,
				s.stats.TotalReads,
				s.stats.TotalHides,
			)
			s.stats.mu.RUnlock()
		}
	}
}

type SimulationMetrics struct {
	TotalUsers     int
	TotalRequests  int64
	FailedRequests int64
	TotalMessages  int
	TotalReads     int
	TotalHides     int
	AverageLatency time.Duration
}

func (s *Simulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	var total time.Duration
	for _, l := range s.stats.RequestLatencies {
		total += l
	}
	avg := time.Duration(0)
	if len(s.stats.RequestLatencies) > 0 {
		avg = total / time.Duration(len(s.stats.RequestLatencies))
	}

	return SimulationMetrics{
		TotalUsers:     len(s.users),
		TotalRequests:  s.stats.TotalRequests,
		FailedRequests: s.stats.FailedRequests,
		TotalMessages:  s.stats.TotalMessages,
		TotalReads:     s.stats.TotalReads,
		TotalHides:     s.stats.TotalHides,
		AverageLatency: avg,
	}
}
