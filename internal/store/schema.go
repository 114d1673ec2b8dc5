package store

// The commandbus schema: tables first, then the transition functions. The
// three worker-path functions (receive_command, finish_command,
// fail_command) are the only writers of command status transitions;
// everything else goes through them or through the operator functions.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS commandbus`,

	`CREATE TABLE IF NOT EXISTS commandbus.command (
		domain TEXT NOT NULL,
		command_id UUID NOT NULL,
		command_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		queue_message_id BIGINT,
		correlation_id UUID,
		reply_queue TEXT NOT NULL DEFAULT '',
		batch_id UUID,
		last_error_kind TEXT,
		last_error_code TEXT,
		last_error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (domain, command_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_command_batch
		ON commandbus.command (domain, batch_id) WHERE batch_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_command_tsq
		ON commandbus.command (domain, updated_at DESC) WHERE status = 'IN_TROUBLESHOOTING_QUEUE'`,
	`CREATE INDEX IF NOT EXISTS idx_command_correlation
		ON commandbus.command (domain, correlation_id) WHERE correlation_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS commandbus.audit (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		domain TEXT NOT NULL,
		command_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_command
		ON commandbus.audit (domain, command_id, id)`,

	`CREATE TABLE IF NOT EXISTS commandbus.batch (
		domain TEXT NOT NULL,
		batch_id UUID NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		batch_type TEXT NOT NULL DEFAULT 'COMMAND',
		status TEXT NOT NULL DEFAULT 'PENDING',
		total_count INTEGER NOT NULL,
		completed_count INTEGER NOT NULL DEFAULT 0,
		canceled_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		in_troubleshooting_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (domain, batch_id)
	)`,

	`CREATE TABLE IF NOT EXISTS commandbus.payload_archive (
		domain TEXT NOT NULL,
		command_id UUID NOT NULL,
		payload JSONB NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (domain, command_id)
	)`,

	`CREATE TABLE IF NOT EXISTS commandbus.process (
		domain TEXT NOT NULL,
		process_id UUID NOT NULL,
		process_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		current_step TEXT NOT NULL DEFAULT '',
		state JSONB NOT NULL DEFAULT '{}',
		batch_id UUID,
		last_error_kind TEXT,
		last_error_code TEXT,
		last_error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (domain, process_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_process_batch
		ON commandbus.process (domain, batch_id) WHERE batch_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS commandbus.process_audit (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		domain TEXT NOT NULL,
		process_id UUID NOT NULL,
		step_name TEXT NOT NULL,
		command_id UUID NOT NULL,
		command_type TEXT NOT NULL,
		command_data JSONB,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reply_outcome TEXT,
		reply_data JSONB,
		received_at TIMESTAMPTZ,
		UNIQUE (domain, command_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_process_audit_process
		ON commandbus.process_audit (domain, process_id, id)`,
}

var procedureStatements = []string{
	// Lease-side transition: attempts+1, PENDING/retried -> IN_PROGRESS.
	// An empty result tells the caller the message is stale and must be
	// acked without running the handler.
	`CREATE OR REPLACE FUNCTION commandbus.receive_command(
		p_domain TEXT,
		p_command_id UUID,
		p_msg_id BIGINT,
		p_new_status TEXT DEFAULT 'IN_PROGRESS'
	) RETURNS SETOF commandbus.command
	LANGUAGE plpgsql AS $fn$
	DECLARE
		v_cmd commandbus.command;
	BEGIN
		UPDATE commandbus.command
		   SET attempts = attempts + 1,
		       status = p_new_status,
		       queue_message_id = p_msg_id,
		       updated_at = NOW()
		 WHERE domain = p_domain
		   AND command_id = p_command_id
		   AND status NOT IN ('COMPLETED', 'CANCELED')
		RETURNING * INTO v_cmd;

		IF NOT FOUND THEN
			RETURN;
		END IF;

		INSERT INTO commandbus.audit (domain, command_id, event_type, details)
		VALUES (p_domain, p_command_id, 'RECEIVED',
		        jsonb_build_object('attempt', v_cmd.attempts, 'msg_id', p_msg_id));

		IF v_cmd.batch_id IS NOT NULL THEN
			PERFORM commandbus.start_batch(p_domain, v_cmd.batch_id, p_command_id);
		END IF;

		RETURN NEXT v_cmd;
		RETURN;
	END;
	$fn$`,

	`CREATE OR REPLACE FUNCTION commandbus.start_batch(
		p_domain TEXT,
		p_batch_id UUID,
		p_command_id UUID
	) RETURNS VOID
	LANGUAGE plpgsql AS $fn$
	BEGIN
		UPDATE commandbus.batch
		   SET status = 'IN_PROGRESS', updated_at = NOW()
		 WHERE domain = p_domain AND batch_id = p_batch_id AND status = 'PENDING';

		IF FOUND THEN
			INSERT INTO commandbus.audit (domain, command_id, event_type, details)
			VALUES (p_domain, p_command_id, 'BATCH_STARTED',
			        jsonb_build_object('batch_id', p_batch_id));
		END IF;
	END;
	$fn$`,

	// Terminal transition under a row lock. The audit stays append-only: a
	// repeated call for an already-reached status records the event again
	// but leaves the row untouched. Batch counters are never updated here.
	`CREATE OR REPLACE FUNCTION commandbus.finish_command(
		p_domain TEXT,
		p_command_id UUID,
		p_status TEXT,
		p_event_type TEXT,
		p_error_kind TEXT DEFAULT NULL,
		p_error_code TEXT DEFAULT NULL,
		p_error_message TEXT DEFAULT NULL,
		p_details JSONB DEFAULT NULL
	) RETURNS SETOF commandbus.command
	LANGUAGE plpgsql AS $fn$
	DECLARE
		v_cmd commandbus.command;
	BEGIN
		SELECT * INTO v_cmd
		  FROM commandbus.command
		 WHERE domain = p_domain AND command_id = p_command_id
		 FOR UPDATE;

		IF NOT FOUND THEN
			RETURN;
		END IF;

		INSERT INTO commandbus.audit (domain, command_id, event_type, details)
		VALUES (p_domain, p_command_id, p_event_type, p_details);

		IF v_cmd.status = p_status THEN
			RETURN NEXT v_cmd;
			RETURN;
		END IF;

		UPDATE commandbus.command
		   SET status = p_status,
		       last_error_kind = COALESCE(p_error_kind, last_error_kind),
		       last_error_code = COALESCE(p_error_code, last_error_code),
		       last_error_message = COALESCE(p_error_message, last_error_message),
		       updated_at = NOW(),
		       completed_at = CASE
		           WHEN p_status IN ('COMPLETED', 'CANCELED', 'FAILED') THEN NOW()
		           ELSE completed_at
		       END
		 WHERE domain = p_domain AND command_id = p_command_id
		RETURNING * INTO v_cmd;

		RETURN NEXT v_cmd;
		RETURN;
	END;
	$fn$`,

	// Transient failure bookkeeping: last-error and audit only. The row
	// stays IN_PROGRESS; the message reappears when its lease expires.
	`CREATE OR REPLACE FUNCTION commandbus.fail_command(
		p_domain TEXT,
		p_command_id UUID,
		p_error_kind TEXT,
		p_error_code TEXT,
		p_error_message TEXT,
		p_attempt INTEGER,
		p_max_attempts INTEGER,
		p_msg_id BIGINT
	) RETURNS VOID
	LANGUAGE plpgsql AS $fn$
	BEGIN
		UPDATE commandbus.command
		   SET last_error_kind = p_error_kind,
		       last_error_code = p_error_code,
		       last_error_message = p_error_message,
		       updated_at = NOW()
		 WHERE domain = p_domain AND command_id = p_command_id;

		INSERT INTO commandbus.audit (domain, command_id, event_type, details)
		VALUES (p_domain, p_command_id, 'FAILED',
		        jsonb_build_object(
		            'kind', p_error_kind,
		            'code', p_error_code,
		            'message', p_error_message,
		            'attempt', p_attempt,
		            'max_attempts', p_max_attempts,
		            'msg_id', p_msg_id));
	END;
	$fn$`,

	`CREATE OR REPLACE FUNCTION commandbus.update_batch_counters(
		p_domain TEXT,
		p_batch_id UUID,
		p_completed INTEGER,
		p_canceled INTEGER,
		p_failed INTEGER,
		p_in_tsq INTEGER
	) RETURNS VOID
	LANGUAGE plpgsql AS $fn$
	BEGIN
		UPDATE commandbus.batch
		   SET completed_count = GREATEST(completed_count + p_completed, 0),
		       canceled_count = GREATEST(canceled_count + p_canceled, 0),
		       failed_count = GREATEST(failed_count + p_failed, 0),
		       in_troubleshooting_count = GREATEST(in_troubleshooting_count + p_in_tsq, 0),
		       updated_at = NOW()
		 WHERE domain = p_domain AND batch_id = p_batch_id;
	END;
	$fn$`,

	`CREATE OR REPLACE FUNCTION commandbus.tsq_retry(p_domain TEXT, p_batch_id UUID)
	RETURNS VOID LANGUAGE sql AS
	$fn$ SELECT commandbus.update_batch_counters(p_domain, p_batch_id, 0, 0, 0, -1) $fn$`,

	`CREATE OR REPLACE FUNCTION commandbus.tsq_cancel(p_domain TEXT, p_batch_id UUID)
	RETURNS VOID LANGUAGE sql AS
	$fn$ SELECT commandbus.update_batch_counters(p_domain, p_batch_id, 0, 1, 0, -1) $fn$`,

	`CREATE OR REPLACE FUNCTION commandbus.tsq_complete(p_domain TEXT, p_batch_id UUID)
	RETURNS VOID LANGUAGE sql AS
	$fn$ SELECT commandbus.update_batch_counters(p_domain, p_batch_id, 1, 0, 0, -1) $fn$`,

	// On-demand aggregation. Counters never change on the command fast
	// path; concurrent refreshes are safe because the update only reflects
	// committed terminal states.
	`CREATE OR REPLACE FUNCTION commandbus.refresh_batch_stats(
		p_domain TEXT,
		p_batch_id UUID
	) RETURNS TABLE (
		total INTEGER,
		completed INTEGER,
		canceled INTEGER,
		failed INTEGER,
		in_troubleshooting INTEGER,
		is_complete BOOLEAN,
		status TEXT
	)
	LANGUAGE plpgsql AS $fn$
	#variable_conflict use_column
	DECLARE
		v_batch     commandbus.batch;
		v_completed INTEGER := 0;
		v_canceled  INTEGER := 0;
		v_failed    INTEGER := 0;
		v_tsq       INTEGER := 0;
		v_done      BOOLEAN;
		v_status    TEXT;
	BEGIN
		SELECT * INTO v_batch
		  FROM commandbus.batch
		 WHERE domain = p_domain AND batch_id = p_batch_id;

		IF NOT FOUND THEN
			RAISE EXCEPTION 'batch % not found in domain %', p_batch_id, p_domain
				USING ERRCODE = 'P0002';
		END IF;

		IF v_batch.batch_type = 'PROCESS' THEN
			SELECT
				COUNT(*) FILTER (WHERE p.status IN ('COMPLETED', 'COMPENSATED')),
				COUNT(*) FILTER (WHERE p.status = 'CANCELED'),
				COUNT(*) FILTER (WHERE p.status = 'FAILED'),
				COUNT(*) FILTER (WHERE p.status NOT IN ('COMPLETED', 'COMPENSATED', 'CANCELED', 'FAILED')
					AND (p.status = 'WAITING_FOR_TSQ' OR EXISTS (
						SELECT 1 FROM commandbus.command c
						 WHERE c.domain = p.domain
						   AND c.correlation_id = p.process_id
						   AND c.status = 'IN_TROUBLESHOOTING_QUEUE')))
			  INTO v_completed, v_canceled, v_failed, v_tsq
			  FROM commandbus.process p
			 WHERE p.domain = p_domain AND p.batch_id = p_batch_id;
		ELSE
			SELECT
				COUNT(*) FILTER (WHERE c.status = 'COMPLETED'),
				COUNT(*) FILTER (WHERE c.status = 'CANCELED'),
				COUNT(*) FILTER (WHERE c.status = 'FAILED'),
				COUNT(*) FILTER (WHERE c.status = 'IN_TROUBLESHOOTING_QUEUE')
			  INTO v_completed, v_canceled, v_failed, v_tsq
			  FROM commandbus.command c
			 WHERE c.domain = p_domain AND c.batch_id = p_batch_id;
		END IF;

		v_done := (v_completed + v_canceled + v_failed + v_tsq) >= v_batch.total_count;

		v_status := v_batch.status;
		IF v_done THEN
			IF v_canceled = 0 AND v_failed = 0 AND v_tsq = 0 THEN
				v_status := 'COMPLETED';
			ELSE
				v_status := 'COMPLETED_WITH_FAILURES';
			END IF;
		ELSIF v_batch.status = 'PENDING' AND (v_completed + v_canceled + v_failed + v_tsq) > 0 THEN
			v_status := 'IN_PROGRESS';
		END IF;

		UPDATE commandbus.batch b
		   SET completed_count = v_completed,
		       canceled_count = v_canceled,
		       failed_count = v_failed,
		       in_troubleshooting_count = v_tsq,
		       status = v_status,
		       completed_at = CASE
		           WHEN v_done AND b.completed_at IS NULL THEN NOW()
		           ELSE b.completed_at
		       END,
		       updated_at = NOW()
		 WHERE b.domain = p_domain AND b.batch_id = p_batch_id;

		IF v_done AND v_batch.status NOT IN ('COMPLETED', 'COMPLETED_WITH_FAILURES') THEN
			INSERT INTO commandbus.audit (domain, command_id, event_type, details)
			VALUES (p_domain, p_batch_id, 'BATCH_COMPLETED',
			        jsonb_build_object(
			            'status', v_status,
			            'completed', v_completed,
			            'canceled', v_canceled,
			            'failed', v_failed,
			            'in_troubleshooting', v_tsq));
		END IF;

		RETURN QUERY SELECT v_batch.total_count, v_completed, v_canceled, v_failed, v_tsq, v_done, v_status;
	END;
	$fn$`,
}
