package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(embCacheHits, embCacheMisses, embLocalFallbacks, chunksPerDocument, chunkRunes)
}

var (
	embCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_hits_total",
			Help: "Embedding cache hits by tier.",
		},
		[]string{"tier"}, // memory | redis
	)

	embCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "embedding_cache_misses_total",
		Help: "Embedding cache misses (backend call required).",
	})

	embLocalFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "embedding_local_fallbacks_total",
		Help: "Embeddings produced by the deterministic local fallback.",
	})

	chunksPerDocument = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chunker_chunks_per_document",
		Help:    "Chunks produced per vectorized document.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500},
	})

	chunkRunes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chunker_chunk_runes",
		Help:    "Chunk length distribution in runes.",
		Buckets: []float64{50, 100, 200, 400, 600, 800, 1000, 1500},
	})
)

func IncCacheHit(tier string)  { embCacheHits.WithLabelValues(tier).Inc() }
func IncCacheMiss()            { embCacheMisses.Inc() }
func IncLocalFallback()        { embLocalFallbacks.Inc() }
func ObserveChunks(n int)      { chunksPerDocument.Observe(float64(n)) }
func ObserveChunkSize(n int)   { chunkRunes.Observe(float64(n)) }
