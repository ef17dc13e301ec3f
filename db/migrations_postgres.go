package db

// PostgreSQL-specific migrations for taxonomy persistence

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_taxonomy_runs_table",
		Up: `
			CREATE TABLE IF NOT EXISTS taxonomy_runs (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				total_nodes INTEGER NOT NULL,
				root_nodes INTEGER NOT NULL,
				max_depth INTEGER NOT NULL,
				stats TEXT NOT NULL,
				warnings TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_taxonomy_runs_created_at ON taxonomy_runs(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_taxonomy_runs_created_at;
			DROP TABLE IF EXISTS taxonomy_runs;
		`,
	},
	{
		Version: 2,
		Name:    "create_taxonomy_nodes_table",
		Up: `
			CREATE TABLE IF NOT EXISTS taxonomy_nodes (
				run_id TEXT NOT NULL REFERENCES taxonomy_runs(id) ON DELETE CASCADE,
				id TEXT NOT NULL,
				position INTEGER NOT NULL,
				url TEXT NOT NULL,
				path TEXT NOT NULL,
				host TEXT NOT NULL,
				title TEXT NOT NULL,
				parent_id TEXT,
				depth INTEGER NOT NULL,
				slug TEXT NOT NULL,
				breadcrumb TEXT NOT NULL,
				children TEXT NOT NULL,
				metadata TEXT NOT NULL,
				last_modified TEXT,
				PRIMARY KEY (run_id, id)
			);
			CREATE INDEX IF NOT EXISTS idx_taxonomy_nodes_url ON taxonomy_nodes(run_id, url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_taxonomy_nodes_url;
			DROP TABLE IF EXISTS taxonomy_nodes;
		`,
	},
	{
		Version: 3,
		Name:    "create_match_runs_table",
		Up: `
			CREATE TABLE IF NOT EXISTS match_runs (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				stats TEXT NOT NULL,
				report TEXT NOT NULL
			);
		`,
		Down: `
			DROP TABLE IF EXISTS match_runs;
		`,
	},
	{
		Version: 4,
		Name:    "create_match_results_table",
		Up: `
			CREATE TABLE IF NOT EXISTS match_results (
				run_id TEXT NOT NULL REFERENCES match_runs(id) ON DELETE CASCADE,
				source_url TEXT NOT NULL,
				target_url TEXT NOT NULL,
				confidence DOUBLE PRECISION NOT NULL,
				match_type TEXT NOT NULL,
				transformations TEXT NOT NULL,
				PRIMARY KEY (run_id, source_url)
			);
			CREATE INDEX IF NOT EXISTS idx_match_results_target ON match_results(run_id, target_url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_match_results_target;
			DROP TABLE IF EXISTS match_results;
		`,
	},
}
