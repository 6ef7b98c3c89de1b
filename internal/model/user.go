package model

// User は認証プロバイダーが管理するユーザー。
// 本サービスは作成・削除を行わず、検証済みトークンから識別子を読み取るだけである。
type User struct {
	ID    string
	Email string
}
