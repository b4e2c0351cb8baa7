package handler

import (
	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/auth"
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/identity"
	"github.com/hitoshi/attendly/internal/user"
)

// --- compile-time interface checks ---
// ドメインサービスはアダプタなしでハンドラーのインターフェースを満たす。

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ RegistryServiceInterface = (*user.Service)(nil)
var _ EventServiceInterface = (*event.Service)(nil)
var _ AttendedEventsLister = (*event.Service)(nil)
var _ AttendanceServiceInterface = (*attendance.Coordinator)(nil)
var _ IdentityServiceInterface = (*identity.Reconciler)(nil)
