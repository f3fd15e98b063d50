package models

// EscrowStatus константы статусов escrow заказа.
// Единственный авторитетный статус заказа; отображаемый статус выводится
// из него методом Order.DisplayStatus и нигде не хранится.
const (
	EscrowStatusFunded        = "funded"
	EscrowStatusWorkSubmitted = "work_submitted"
	EscrowStatusReleased      = "released"
	EscrowStatusRefunded      = "refunded"
	EscrowStatusDisputed      = "disputed"
)

// DisputeStatus константы статусов спора.
const (
	DisputeStatusNone        = "none"
	DisputeStatusPending     = "pending"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
)

// Итоги разрешения спора.
const (
	DisputeOutcomeRefund      = "refund"
	DisputeOutcomeFavorSeller = "favor_seller"
)

// MilestoneStatus константы статусов этапов.
const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusSubmitted  = "submitted"
	MilestoneStatusApproved   = "approved"
)

// AccessLevel уровни доступа к файлам работы.
const (
	AccessLevelPreviewOnly = "preview_only"
	AccessLevelFullAccess  = "full_access"
)

// FileClass запрашиваемый класс файла.
const (
	FileClassPreview = "preview"
	FileClassFinal   = "final"
)

// Кто инициировал выплату.
const (
	ReleasedByClient  = "client"
	ReleasedBySystem  = "system"
	ReleasedByArbiter = "arbiter"
)

// Уровни защиты сделки. Только для отображения и аудита,
// правила переходов от уровня не зависят.
const (
	ProtectionStandard = "standard"
	ProtectionEnhanced = "enhanced"
)

// Роли пользователей (контракт внешней подсистемы аутентификации).
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// PaymentIntentStatus статусы платёжного намерения.
const (
	IntentStatusCreated   = "created"
	IntentStatusConfirmed = "confirmed"
	IntentStatusFailed    = "failed"
)

// ValidEscrowStatuses список валидных статусов escrow.
var ValidEscrowStatuses = map[string]struct{}{
	EscrowStatusFunded:        {},
	EscrowStatusWorkSubmitted: {},
	EscrowStatusReleased:      {},
	EscrowStatusRefunded:      {},
	EscrowStatusDisputed:      {},
}

// ValidMilestoneStatuses список валидных статусов этапов.
var ValidMilestoneStatuses = map[string]struct{}{
	MilestoneStatusPending:    {},
	MilestoneStatusInProgress: {},
	MilestoneStatusSubmitted:  {},
	MilestoneStatusApproved:   {},
}

// ValidFileClasses список валидных классов файлов.
var ValidFileClasses = map[string]struct{}{
	FileClassPreview: {},
	FileClassFinal:   {},
}
