package models

// Settings — снимок платформенных политик escrow. Читается из внешнего
// хранилища настроек; при его недоступности действуют значения по умолчанию.
type Settings struct {
	// Базовые сроки автовыплаты по цене заказа, в днях.
	AutoReleaseDaysStandard int     `db:"auto_release_days_standard" json:"auto_release_days_standard"`
	AutoReleaseDaysExtended int     `db:"auto_release_days_extended" json:"auto_release_days_extended"`
	ExtendedTierPrice       float64 `db:"extended_tier_price" json:"extended_tier_price"`

	// Окно приёмки покупателем после сдачи работы, в днях.
	ReviewWindowDays int `db:"review_window_days" json:"review_window_days"`

	// Удержание после дедлайна последнего этапа, в днях.
	MilestoneHoldDays int `db:"milestone_hold_days" json:"milestone_hold_days"`

	// Порог цены, с которого сделка помечается enhanced-защитой.
	EnhancedProtectionPrice float64 `db:"enhanced_protection_price" json:"enhanced_protection_price"`
}

// DefaultSettings — значения политик при недоступном хранилище настроек.
func DefaultSettings() Settings {
	return Settings{
		AutoReleaseDaysStandard: 7,
		AutoReleaseDaysExtended: 14,
		ExtendedTierPrice:       50000,
		ReviewWindowDays:        3,
		MilestoneHoldDays:       3,
		EnhancedProtectionPrice: 100000,
	}
}
