package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Durable webhook queue, one row per provider event
			CREATE TABLE webhook_jobs (
				id VARCHAR(255) PRIMARY KEY,
				internal_ref VARCHAR(255) NOT NULL DEFAULT '',
				payload BYTEA NOT NULL,
				attempts INT NOT NULL DEFAULT 0,
				next_attempt_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_flight', 'succeeded', 'failed')),
				last_error TEXT NOT NULL DEFAULT '',
				claimed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_webhook_jobs_eligible ON webhook_jobs(status, next_attempt_at);
			CREATE INDEX idx_webhook_jobs_claimed_at ON webhook_jobs(claimed_at) WHERE status = 'in_flight';

			-- Idempotency ledger
			CREATE TABLE processed_events (
				id VARCHAR(255) PRIMARY KEY,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_processed_events_recorded_at ON processed_events(recorded_at);
		`,
		2: `
			CREATE TABLE accounts (
				id VARCHAR(255) PRIMARY KEY,
				phone_number_id VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE contacts (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				phone VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				variables JSONB NOT NULL DEFAULT '{}',
				tags JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (owner_id, phone)
			);

			CREATE TABLE messages (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				contact_id UUID NOT NULL,
				provider_message_id VARCHAR(255) UNIQUE,
				direction VARCHAR(16) NOT NULL CHECK (direction IN ('inbound', 'outbound')),
				body TEXT NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL,
				flow_id VARCHAR(255) NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_messages_contact_id ON messages(contact_id);
		`,
		3: `
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL CHECK (status IN ('active', 'inactive')),
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_owner_status ON flows(owner_id, status);

			CREATE TABLE chatbots (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_chatbots_owner_active ON chatbots(owner_id, active);
		`,
		4: `
			CREATE TABLE flow_runs (
				id UUID PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				event_id VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL CHECK (status IN ('completed', 'aborted')),
				visited_hops INT NOT NULL,
				effect_count INT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flow_runs_flow_id ON flow_runs(flow_id, created_at DESC);

			CREATE TABLE scheduled_effects (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				effects JSONB NOT NULL,
				claimed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_scheduled_effects_due ON scheduled_effects(due_at) WHERE claimed_at IS NULL;
		`,
	}
}
