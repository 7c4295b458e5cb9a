package simulator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

var sampleMessages = []string{
	"hey, you around?",
	"did you see that?",
	"running a bit late",
	"sounds good to me",
	"let's catch up tomorrow",
	"ha, that's great",
	"ok",
	"can you send me the link?",
}

// SimulateActivities drives the message, read and hide loops until the
// context expires.
func (s *Simulator) SimulateActivities(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateMessages(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateReads(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateHides(ctx)
	}()

	wg.Wait()
	return nil
}

// frequencyInterval converts a per-user-per-hour rate into a tick interval
// for the whole population.
func (s *Simulator) frequencyInterval(perUserPerHour float64) time.Duration {
	if perUserPerHour <= 0 || len(s.users) == 0 {
		return time.Hour
	}
	perSecond := perUserPerHour * float64(len(s.users)) / 3600.0
	if perSecond <= 0 {
		return time.Hour
	}
	return time.Duration(float64(time.Second) / perSecond)
}

func (s *Simulator) simulateMessages(ctx context.Context) {
	ticker := time.NewTicker(s.frequencyInterval(s.config.MessageFrequency))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, threadID, ok := s.randomUserThread()
			if !ok {
				continue
			}

			text := sampleMessages[rand.Intn(len(sampleMessages))]
			start := time.Now()
			_, err := s.makeRequest(http.MethodPost,
				fmt.Sprintf("/threads/%s/messages", threadID), user.Token,
				map[string]string{"text": text})
			s.recordRequestMetrics(start, err)
			if err != nil {
				log.Printf("Message send failed for %s: %v", user.Username, err)
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalMessages++
			s.stats.mu.Unlock()
			user.LastActive = time.Now()
		}
	}
}

func (s *Simulator) simulateReads(ctx context.Context) {
	ticker := time.NewTicker(s.frequencyInterval(s.config.ReadFrequency))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, threadID, ok := s.randomUserThread()
			if !ok {
				continue
			}

			start := time.Now()
			_, err := s.makeRequest(http.MethodPost,
				fmt.Sprintf("/threads/%s/read", threadID), user.Token, nil)
			s.recordRequestMetrics(start, err)
			if err != nil {
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalReads++
			s.stats.mu.Unlock()

			// Occasionally reconcile the badge the way a client would.
			if rand.Float64() < 0.2 {
				start = time.Now()
				_, err = s.makeRequest(http.MethodGet, "/unread", user.Token, nil)
				s.recordRequestMetrics(start, err)
			}
		}
	}
}

// simulateHides spreads the configured fraction of hides over the run, then
// re-opens some of them so the barrier paths get exercised too.
func (s *Simulator) simulateHides(ctx context.Context) {
	expectedHides := float64(len(s.users)) * s.config.HideRate
	if expectedHides < 1 {
		return
	}
	interval := time.Duration(float64(s.config.SimulationTime) / expectedHides)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, threadID, ok := s.randomUserThread()
			if !ok {
				continue
			}

			start := time.Now()
			_, err := s.makeRequest(http.MethodDelete,
				fmt.Sprintf("/threads/%s", threadID), user.Token, nil)
			s.recordRequestMetrics(start, err)
			if err != nil {
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalHides++
			s.stats.mu.Unlock()

			// Half the hiders come back later.
			if rand.Float64() < 0.5 {
				start = time.Now()
				_, err = s.makeRequest(http.MethodGet, "/threads", user.Token, nil)
				s.recordRequestMetrics(start, err)
			}
		}
	}
}

func (s *Simulator) randomUserThread() (*SimulatedUser, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.users) == 0 {
		return nil, "", false
	}
	for attempts := 0; attempts < 5; attempts++ {
		user := s.users[rand.Intn(len(s.users))]
		if len(user.Threads) == 0 {
			continue
		}
		threadID := user.Threads[rand.Intn(len(user.Threads))]
		return user, threadID.String(), true
	}
	return nil, "", false
}
