package holdfast_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grafana/holdfast"
	"github.com/grafana/holdfast/internal/testhelpers"
	"github.com/grafana/holdfast/notify"
	"github.com/grafana/holdfast/storage"
)

// apiServer is a scripted upstream. The health endpoint always answers;
// data routes answer a success envelope, or 503 while failing is set.
type apiServer struct {
	srv     *httptest.Server
	failing atomic.Bool

	mu   sync.Mutex
	hits map[string]int
}

func newAPIServer() *apiServer {
	s := &apiServer{hits: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if s.failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"success":false,"message":"service unavailable"}`))
			return
		}

		_, _ = w.Write([]byte(`{"success":true,"data":{"path":"` + r.URL.Path + `"}}`))
	}))
	return s
}

func (s *apiServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

var _ = Describe("Client", func() {
	var (
		server *apiServer
		client holdfast.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = newAPIServer()

		var err error
		client, err = holdfast.New(server.srv.URL,
			holdfast.WithStorage(storage.NewMemory()),
			holdfast.WithLogger(testhelpers.NewTestLogger()),
			holdfast.WithProbeInterval(time.Hour),
			holdfast.WithInlineRetries(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Connectivity().Online()).To(BeTrue())
	})

	AfterEach(func() {
		client.Close()
		server.srv.Close()
	})

	It("serves repeat reads from the cache without touching the network", func() {
		opts := &holdfast.RequestOptions{CacheKey: "articles", CacheExpirationMinutes: 5}

		first := client.Get(ctx, "/articles", opts)
		Expect(first.Success).To(BeTrue())
		Expect(first.FromCache).To(BeFalse())
		Expect(server.count("/articles")).To(Equal(1))

		second := client.Get(ctx, "/articles", opts)
		Expect(second.Success).To(BeTrue())
		Expect(second.FromCache).To(BeTrue())
		Expect(second.Data).To(MatchJSON(first.Data))
		Expect(server.count("/articles")).To(Equal(1))
	})

	It("queues mutations while offline and replays them on reconnect", func() {
		server.failing.Store(true)
		client.Connectivity().ReportHint(false)

		resp := client.Post(ctx, "/content/session", map[string]string{"userId": "u1"}, &holdfast.RequestOptions{Silent: true})
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Queued).NotTo(BeNil())
		Expect(client.Queue().Len()).To(Equal(1))
		// Offline calls get a single probe attempt before queueing.
		Expect(server.count("/content/session")).To(Equal(1))

		server.failing.Store(false)
		client.Connectivity().ReportHint(true)

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		final := resp.Settle(waitCtx)
		Expect(final.Success).To(BeTrue())
		Expect(final.Data).To(MatchJSON(`{"path":"/content/session"}`))
		Expect(client.Queue().Len()).To(BeZero())
		Expect(server.count("/content/session")).To(Equal(2))
	})

	It("stops retrying once the attempt budget is spent and degrades", func() {
		server.failing.Store(true)

		resp := client.Get(ctx, "/flaky", &holdfast.RequestOptions{Fallback: []string{"stale"}})
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Queued).To(BeNil(), "reachable-but-refusing servers are terminal, not queued")
		Expect(resp.Data).To(MatchJSON(`["stale"]`))
		Expect(server.count("/flaky")).To(Equal(2))

		// Exactly one notification for the whole failed call; the retry in
		// the middle stayed silent.
		active := client.Notifications().Active()
		Expect(active).To(HaveLen(1))
		Expect(active[0].Severity).To(Equal(notify.SeverityWarning))
		Expect(active[0].Message).To(Equal("service unavailable"))

		Consistently(func() int { return server.count("/flaky") }, 200*time.Millisecond, 50*time.Millisecond).Should(Equal(2))
	})

	It("suppresses notifications for silent calls", func() {
		server.failing.Store(true)

		resp := client.Get(ctx, "/quiet", &holdfast.RequestOptions{Silent: true})
		Expect(resp.Success).To(BeFalse())
		Expect(client.Notifications().Active()).To(BeEmpty())
	})

	It("never caches mutation responses", func() {
		resp := client.Post(ctx, "/content", map[string]string{"title": "t"}, &holdfast.RequestOptions{CacheKey: "content"})
		Expect(resp.Success).To(BeTrue())
		Expect(client.HasCachedData("content")).To(BeFalse())
	})

	It("does not queue when queueing is disabled for the call", func() {
		server.failing.Store(true)
		client.Connectivity().ReportHint(false)

		resp := client.Post(ctx, "/content", nil, &holdfast.RequestOptions{DisableQueue: true, Silent: true})
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Queued).To(BeNil())
		Expect(client.Queue().Len()).To(BeZero())
	})
})
