package database

const schema = `
CREATE TABLE IF NOT EXISTS clients (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    name VARCHAR(255),
    balance INT NOT NULL DEFAULT 0,
    free_chat_used_today INT NOT NULL DEFAULT 0,
    free_chat_daily_limit INT NOT NULL DEFAULT 10,
    free_chat_last_reset DATE NOT NULL DEFAULT (CURRENT_DATE),
    referral_code VARCHAR(16) UNIQUE,
    referral_earnings INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    client_id BIGINT NOT NULL,
    method VARCHAR(16) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    coins_requested INT NOT NULL,
    amount_minor INT NOT NULL,
    currency VARCHAR(8) NOT NULL DEFAULT 'RUB',
    external_id VARCHAR(128),
    check_url VARCHAR(512),
    raw_payload TEXT,
    completed_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_payments_status (status),
    FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS generation_jobs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    client_id BIGINT NOT NULL,
    task_id VARCHAR(128) NOT NULL,
    model VARCHAR(32) NOT NULL,
    aspect_ratio VARCHAR(8) NOT NULL,
    prompt TEXT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'in_progress',
    coins_charged INT NOT NULL,
    result_url VARCHAR(512),
    failure_reason TEXT,
    message_id INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_generation_jobs_status (status),
    FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    inviter_id BIGINT NOT NULL,
    invited_id BIGINT NOT NULL UNIQUE,
    inviter_reward INT NOT NULL,
    invited_bonus INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (inviter_id) REFERENCES clients(id),
    FOREIGN KEY (invited_id) REFERENCES clients(id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    client_id BIGINT NOT NULL,
    delta INT NOT NULL,
    reason VARCHAR(32) NOT NULL,
    reference VARCHAR(128),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS coin_packages (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    coins INT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
