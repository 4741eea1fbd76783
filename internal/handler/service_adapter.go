package handler

import (
	"github.com/hitoshi/studydesk/internal/asset"
	"github.com/hitoshi/studydesk/internal/auth"
	"github.com/hitoshi/studydesk/internal/booking"
	"github.com/hitoshi/studydesk/internal/studysession"
	"github.com/hitoshi/studydesk/internal/user"
)

// ドメインサービスはハンドラーのインターフェースを直接満たすため、アダプタを挟まない。
var (
	_ AuthServiceInterface         = (*auth.Service)(nil)
	_ StudySessionServiceInterface = (*studysession.Service)(nil)
	_ BookingServiceInterface      = (*booking.Service)(nil)
	_ AssetServiceInterface        = (*asset.Service)(nil)
	_ UserServiceInterface         = (*user.Service)(nil)
)
