package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// classifyError はドライバやコンテキストのエラーをドメインエラーに変換する。
// 到達不能・タイムアウト・一時的な競合はStoreUnavailableErrorとして再試行可能にする。
// 分類できないエラーはopを付けてラップするだけにとどめる。
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if isTransientPQError(pqErr) {
			return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
		}
		if pqErr.Code == uniqueViolation {
			return model.NewConflictError(fmt.Sprintf("既に使用されている値です（%s）", pqErr.Constraint))
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isTransientPQError は再試行で回復しうるPostgreSQLエラーかを判定する。
//   - 08: 接続例外
//   - 53: リソース不足（too_many_connectionsなど）
//   - 57P01〜57P03: サーバー停止・再起動中
//   - 57014: statement_timeoutによるキャンセル
//   - 40001 / 40P01: シリアライズ失敗・デッドロック
func isTransientPQError(pqErr *pq.Error) bool {
	switch pqErr.Code.Class() {
	case "08", "53":
		return true
	}
	switch pqErr.Code {
	case "57P01", "57P02", "57P03", "57014", "40001", "40P01":
		return true
	}
	return false
}
