package session

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/marcus-qen/rolegate/internal/identity"
	"github.com/marcus-qen/rolegate/internal/rbac"
)

var _ = Describe("Authorization session", func() {
	var (
		ctx   context.Context
		store *identity.MemoryStore
		s     *Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = identity.NewDemoStore(nil, bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())
		s, err = New(Options{Store: store})
		Expect(err).NotTo(HaveOccurred())
	})

	It("signs in the admin with the full admin permission set", func() {
		Expect(s.Login(ctx, "admin@example.com", "admin123")).To(Succeed())

		snap := s.Snapshot()
		Expect(snap.Status).To(Equal(StatusAuthenticated))
		Expect(snap.Identity.DisplayName).To(Equal("Admin User"))
		Expect(snap.Role()).To(Equal(rbac.RoleAdmin))
		Expect(permIDs(snap.Permissions)).To(Equal([]rbac.PermissionID{
			rbac.PermRead, rbac.PermWrite, rbac.PermDelete, rbac.PermManageUsers, rbac.PermManageRoles,
		}))
		Expect(s.HasPermission(rbac.PermManageUsers)).To(BeTrue())
		Expect(s.HasPermission(rbac.PermManageContent)).To(BeFalse())
	})

	It("gates the moderator to content management", func() {
		Expect(s.Login(ctx, "mod@example.com", "mod123")).To(Succeed())

		Expect(s.HasPermission(rbac.PermManageContent)).To(BeTrue())
		Expect(s.HasPermission(rbac.PermManageUsers)).To(BeFalse())
		Expect(s.HasPermission(rbac.PermManageRoles)).To(BeFalse())
		Expect(s.HasPermission(rbac.PermDelete)).To(BeFalse())
	})

	It("rejects bad credentials and stays anonymous", func() {
		Expect(s.Login(ctx, "admin@example.com", "wrong")).To(MatchError(ErrInvalidCredentials))

		Expect(s.Snapshot().Status).To(Equal(StatusAnonymous))
		Expect(s.CurrentPermissions()).To(BeEmpty())
	})

	It("registers a new user with read only", func() {
		Expect(s.Register(ctx, "new@example.com", "pw", "New User")).To(Succeed())

		id, ok := s.Identity()
		Expect(ok).To(BeTrue())
		Expect(id.Role).To(Equal(rbac.RoleUser))
		Expect(id.AvatarURL).To(Equal(identity.DefaultAvatarURL))
		Expect(permIDs(s.CurrentPermissions())).To(Equal([]rbac.PermissionID{rbac.PermRead}))
		Expect(s.HasPermission(rbac.PermWrite)).To(BeFalse())
	})

	It("refuses to register an email that is already taken", func() {
		Expect(s.Register(ctx, "admin@example.com", "x", "Impostor")).To(MatchError(ErrAccountExists))

		Expect(s.Snapshot().Authenticated()).To(BeFalse())
		rec, err := store.FindByEmail(ctx, "admin@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.DisplayName).To(Equal("Admin User"))
		Expect(rec.Role).To(Equal(rbac.RoleAdmin))
	})

	Context("after signing out", func() {
		BeforeEach(func() {
			Expect(s.Login(ctx, "admin@example.com", "admin123")).To(Succeed())
			s.Logout()
		})

		It("holds no identity and no permissions", func() {
			snap := s.Snapshot()
			Expect(snap.Identity).To(BeNil())
			Expect(snap.Permissions).To(BeEmpty())
			for _, role := range rbac.Roles() {
				for _, id := range s.Policy().Grants(role) {
					Expect(s.HasPermission(id)).To(BeFalse())
				}
			}
		})

		It("does not carry permissions over to the next identity", func() {
			Expect(s.Login(ctx, "mod@example.com", "mod123")).To(Succeed())
			Expect(s.HasPermission(rbac.PermManageUsers)).To(BeFalse())
			Expect(s.CurrentPermissions()).To(Equal(s.Policy().Permissions(rbac.RoleModerator)))
		})
	})
})
