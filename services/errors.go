package services

import "errors"

// Общие ошибки бизнес-слоя. Хендлеры маппят их на HTTP-статусы
// в mapServiceErrorToHTTP.
var (
	// Ресурс не найден
	ErrNotFound             = errors.New("requested resource not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrInviteNotFound       = errors.New("invite not found")
	ErrMemberNotFound       = errors.New("team member not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed          = errors.New("validation failed")
	ErrTeamNameRequired          = errors.New("team name is required")
	ErrEmailRequired             = errors.New("invitee email is required")
	ErrInvalidInviteRole         = errors.New("invite role must be admin or member")
	ErrInvalidNotificationType   = errors.New("invalid notification type")
	ErrNotificationTitleRequired = errors.New("notification title is required")
	ErrPasswordTooShort          = errors.New("password is too short")
	ErrInviteExpired             = errors.New("invite has expired")

	// Конфликты
	ErrInviteAlreadyPending = errors.New("a pending invite already exists for this email")
	ErrAlreadyTeamMember    = errors.New("user is already an active member of this team")
	ErrInviteNotPending     = errors.New("invite has already been accepted or rejected")
	ErrTeamUpdateConflict   = errors.New("team was modified concurrently, try again")
	ErrAuthEmailTaken       = errors.New("email address is already in use")

	// Аутентификация и авторизация
	ErrAuthenticationFailed      = errors.New("authentication failed")
	ErrInvalidCredentials        = errors.New("invalid email or password")
	ErrForbiddenOperation        = errors.New("operation not allowed for the current user")
	ErrInvitePermissionRequired  = errors.New("only the team owner or an admin can invite members")
	ErrTeamUpdateForbidden       = errors.New("only the team owner or an admin can update the team")
	ErrTeamDeleteForbidden       = errors.New("only the team owner can delete the team")
	ErrMemberRemoveForbidden     = errors.New("only the team owner or an admin can remove members")
	ErrOwnerRemovalForbidden     = errors.New("the team owner cannot be removed")
	ErrAdminSelfRemovalForbidden = errors.New("an admin cannot remove themself from the team")
	ErrRoleChangeForbidden       = errors.New("only the team owner can change member roles")
	ErrSelfRoleChangeForbidden   = errors.New("cannot change your own role")
	ErrInviteOwnershipMismatch   = errors.New("invite is addressed to a different email")

	// Инфраструктура
	ErrAvatarStorageUnavailable = errors.New("avatar storage is not configured")
)
