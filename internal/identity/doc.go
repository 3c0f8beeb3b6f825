// Package identity はユーザー認証サービスの内部実装を提供する。
//
// ユーザー登録・ログイン・リフレッシュトークンによるトークン更新・
// ログアウトを担当する。パスワードはargon2idでハッシュ化して保存し、
// 認証成功時にJWTアクセストークンとDB永続化されたリフレッシュトークンの
// 組を発行する。
package identity
