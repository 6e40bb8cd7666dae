// Package main hosts the asset warmup service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts rendered pages on POST /v1/pages and page URLs on
//     POST /v1/warmups. Warmups are probed with the Colly fetcher and, when the heuristic detector
//     flags a script-driven page, re-rendered with headless Chrome before scanning.
//   - Collection: internal/pipeline scans the HTML for stylesheet links and script tags, resolves
//     each reference through internal/resolver (document root for local and CDN URLs, the
//     singleflight asset cache for everything else), and enqueues one batch per page.
//   - Persistence: the dispatcher drains the pending queue on every enqueue and on a retry ticker.
//     Workers hash each resource, skip unchanged content, archive new revisions (zstd, local or
//     GCS), upsert the resource row, publish a resource.stored notification, and only then remove
//     the pending item.
//   - Storage backends: memory, SQLite (modernc), or Postgres (pgx), selected by storage.backend.
//
// Commands:
//   - warmupd serve --config config.yaml runs the service until SIGINT/SIGTERM. HTTP drains first,
//     then the dispatcher stops, then storage is released.
//   - warmupd install creates missing tables; warmupd drop --yes removes them.
//
// Every config key can be overridden with WARMUP_<SECTION>_<KEY>, e.g. WARMUP_STORAGE_BACKEND=sqlite.
package main
