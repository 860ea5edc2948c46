/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	userColumns = `id, name, email, role, balance, deposit, min_balance, currency, uploading, version, created_at, updated_at`

	// User queries
	queryGetActiveUsers = `
		SELECT ` + userColumns + `
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, role, min_balance, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertSeedUser = `
		INSERT OR IGNORE INTO users (id, name, email, role, balance, deposit)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ? AND active = 1`

	querySetUploading = `
		UPDATE users
		SET uploading = 1, updated_at = ?
		WHERE id = ? AND uploading = 0`

	queryClearUploading = `
		UPDATE users
		SET uploading = 0, updated_at = ?
		WHERE id = ?`

	// Balance queries
	queryGetUserBalance = `
		SELECT balance, deposit, version
		FROM users
		WHERE id = ?`

	queryUpdateUserBalance = `
		UPDATE users
		SET balance = ?, deposit = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	// Carrier account queries
	carrierAccountColumns = `id, user_id, carrier, account_id, name, active, pay_offline, fee, facility, currency, services, credentials, created_at, updated_at`

	queryInsertCarrierAccount = `
		INSERT INTO carrier_accounts (` + carrierAccountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetCarrierAccount = `
		SELECT ` + carrierAccountColumns + `
		FROM carrier_accounts
		WHERE account_id = ?`

	queryListCarrierAccounts = `
		SELECT ` + carrierAccountColumns + `
		FROM carrier_accounts
		WHERE user_id = ?
		ORDER BY created_at`

	// Shipment queries
	shipmentColumns = `id, order_id, user_id, sender, recipient, return_address, packages, carrier, service, service_code,
		carrier_account, facility, customs, status, labels, forms, tracking_id, rate, manifested,
		accounting_status, accounting_diff, accounting_weight, accounting_weight_unit, remark, created_at, updated_at`

	queryInsertShipment = `
		INSERT INTO shipments (` + shipmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetShipment = `
		SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE id = ?`

	queryGetShipmentByTracking = `
		SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE tracking_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryUpdateShipmentAccounting = `
		UPDATE shipments
		SET accounting_status = ?, accounting_diff = ?, accounting_weight = ?, accounting_weight_unit = ?, updated_at = ?
		WHERE id = ?`

	queryListShipments = `
		SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at`

	queryUpdateShipment = `
		UPDATE shipments
		SET sender = ?, recipient = ?, return_address = ?, packages = ?, carrier = ?, service = ?, service_code = ?,
		    carrier_account = ?, facility = ?, customs = ?, status = ?, labels = ?, forms = ?, tracking_id = ?,
		    rate = ?, manifested = ?, accounting_status = ?, accounting_diff = ?, accounting_weight = ?,
		    accounting_weight_unit = ?, remark = ?, updated_at = ?
		WHERE id = ?`

	// Billing queries
	billingColumns = `id, user_id, type, description, account, total, balance, currency, details, status,
		accounting_status, accounting_diff, accounting_weight, accounting_weight_unit, created_at, updated_at`

	queryInsertBillingRecord = `
		INSERT INTO billing_records (` + billingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryAmendBillingRecord = `
		UPDATE billing_records
		SET total = ?, details = ?, status = ?, accounting_status = ?, accounting_diff = ?,
		    accounting_weight = ?, accounting_weight_unit = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`

	queryGetBillingStatus = `
		SELECT status FROM billing_records WHERE id = ? AND user_id = ?`

	queryGetBillingByDescription = `
		SELECT ` + billingColumns + `
		FROM billing_records
		WHERE user_id = ? AND description = ? AND type = ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryListBillingRecords = `
		SELECT ` + billingColumns + `
		FROM billing_records
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Reconciliation queries
	queryGetReconciliationRecordByName = `
		SELECT id, name, date, status, created_at, updated_at
		FROM reconciliation_records
		WHERE name = ?`

	queryInsertReconciliationRecord = `
		INSERT INTO reconciliation_records (id, name, date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryFinishReconciliationRecord = `
		UPDATE reconciliation_records
		SET status = ?, updated_at = ?
		WHERE id = ?`

	accountingItemColumns = `id, record_id, tracking_number, status, weight, weight_unit, amount, original_total, new_total,
		diff, zone, document_name, user_id, account, remark, created_at, updated_at`

	queryUpsertAccountingItem = `
		INSERT INTO accounting_items (` + accountingItemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tracking_number, record_id) DO UPDATE SET
			status = excluded.status,
			weight = excluded.weight,
			weight_unit = excluded.weight_unit,
			amount = excluded.amount,
			original_total = excluded.original_total,
			new_total = excluded.new_total,
			diff = excluded.diff,
			zone = excluded.zone,
			document_name = excluded.document_name,
			user_id = excluded.user_id,
			account = excluded.account,
			remark = excluded.remark,
			updated_at = excluded.updated_at
		RETURNING id`

	queryListAccountingItems = `
		SELECT ` + accountingItemColumns + `
		FROM accounting_items
		WHERE record_id = ?
		ORDER BY created_at, tracking_number`

	// Sequence queries
	queryReserveSequence = `
		INSERT INTO sequences (namespace, value) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET value = value + excluded.value
		RETURNING value`
)
