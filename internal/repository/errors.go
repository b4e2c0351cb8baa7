package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// 一意制約・CHECK制約違反を表すエラー。
// サービス層はこれらをerrors.Isで判定し、業務上の拒否として扱う。
var (
	ErrDuplicateName       = errors.New("duplicate user name")
	ErrDuplicateEmail      = errors.New("duplicate email")
	ErrDuplicateExternalID = errors.New("duplicate external id")
	ErrInvalidWindow       = errors.New("event end_time must be after start_time")
)

// constraintErrors は制約名とドメインエラーの対応。
var constraintErrors = map[string]error{
	"users_name_lower_key":     ErrDuplicateName,
	"users_email_key":          ErrDuplicateEmail,
	"users_external_id_key":    ErrDuplicateExternalID,
	"events_time_window_check": ErrInvalidWindow,
}

// translateConstraintError はPostgreSQLの制約違反をドメインエラーに変換する。
// 対応する制約がない場合は元のエラーを返す。
func translateConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Name() {
	case "unique_violation", "check_violation":
		if mapped, ok := constraintErrors[pqErr.Constraint]; ok {
			return mapped
		}
	}
	return err
}

// IsUniqueViolation はエラーが一意制約違反かを返す。
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateExternalID) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// validID はuuid形式のIDかを返す。
// uuid型カラムに不正な文字列を渡すとクエリ自体が失敗するため、検索前に判定する。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
