package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/models"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"bitbucket.org/wifizone/hotspot_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// End-to-end ledger scenario: import, assign, sell, cancel, recharge. Verifies
// the balance invariant (credited recharges - consumed face value = balance)
// and that every failed operation leaves nothing mutated.
func TestResellerLedgerEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "hotspot_test")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "24")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// Platform operator context.
	superCtx := context.Background()
	superCtx = utils.SetUserIdInContext(superCtx, 1)
	superCtx = utils.SetUserNameInContext(superCtx, "Seed")
	superCtx = utils.SetUsernameInContext(superCtx, "seed@local")
	superCtx = utils.SetUserRoleInContext(superCtx, string(models.UserRoleSuperAdmin))
	superCtx = utils.SetIsAdminInContext(superCtx, true)

	// 1) Register + approve the agency.
	tenant, err := models.CreateTenant(superCtx, &models.NewTenant{
		Name:  "Hotspot Douala",
		Email: "owner@hotspot-douala.cm",
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if tenant.SubscriptionStatus != models.SubscriptionStatusPending {
		t.Fatalf("new tenant should be PENDING; got %s", tenant.SubscriptionStatus)
	}
	tenantId := tenant.ID.String()

	tenant, err = models.ApproveTenant(superCtx, tenantId)
	if err != nil {
		t.Fatalf("ApproveTenant: %v", err)
	}
	if tenant.SubscriptionStatus != models.SubscriptionStatusActive {
		t.Fatalf("approved tenant should be ACTIVE; got %s", tenant.SubscriptionStatus)
	}

	// Status change must leave an outbox row for the realtime feed.
	var outboxCount int64
	if err := db.Model(&models.SubscriptionEventRecord{}).
		Where("tenant_id = ?", tenantId).Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if outboxCount == 0 {
		t.Fatalf("expected a subscription event record after approval")
	}

	// 2) Agency admin and reseller accounts.
	admin, err := models.CreateUser(superCtx, &models.NewUser{
		TenantId: tenantId,
		Username: "douala-admin",
		Name:     "Agency Admin",
		Password: "secret123",
		Role:     models.UserRoleAdmin,
		IsActive: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateUser(admin): %v", err)
	}
	reseller, err := models.CreateUser(superCtx, &models.NewUser{
		TenantId: tenantId,
		Username: "douala-reseller",
		Name:     "Reseller",
		Password: "secret123",
		Role:     models.UserRoleRevendeur,
		IsActive: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateUser(reseller): %v", err)
	}

	adminCtx := context.Background()
	adminCtx = utils.SetTenantIdInContext(adminCtx, tenantId)
	adminCtx = utils.SetUserIdInContext(adminCtx, admin.ID)
	adminCtx = utils.SetUsernameInContext(adminCtx, admin.Username)
	adminCtx = utils.SetUserNameInContext(adminCtx, admin.Name)
	adminCtx = utils.SetUserRoleInContext(adminCtx, string(models.UserRoleAdmin))

	resellerCtx := context.Background()
	resellerCtx = utils.SetTenantIdInContext(resellerCtx, tenantId)
	resellerCtx = utils.SetUserIdInContext(resellerCtx, reseller.ID)
	resellerCtx = utils.SetUsernameInContext(resellerCtx, reseller.Username)
	resellerCtx = utils.SetUserNameInContext(resellerCtx, reseller.Name)
	resellerCtx = utils.SetUserRoleInContext(resellerCtx, string(models.UserRoleRevendeur))

	// Managing accounts is a manager action: a reseller can neither create
	// users nor deactivate them.
	if _, err := models.CreateUser(resellerCtx, &models.NewUser{
		TenantId: tenantId,
		Username: "rogue-admin",
		Name:     "Rogue",
		Password: "secret123",
		Role:     models.UserRoleAdmin,
		IsActive: utils.NewTrue(),
	}); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("CreateUser as reseller = %v; want ErrPermissionDenied", err)
	}
	if _, err := models.DeactivateUser(resellerCtx, admin.ID); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("DeactivateUser as reseller = %v; want ErrPermissionDenied", err)
	}

	// The tenant roster is platform-only.
	if _, err := models.GetAllTenants(adminCtx); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("GetAllTenants as agency admin = %v; want ErrPermissionDenied", err)
	}
	if tenants, err := models.GetAllTenants(superCtx); err != nil || len(tenants) == 0 {
		t.Fatalf("GetAllTenants as super-admin: err=%v rows=%d", err, len(tenants))
	}

	// Login refuses a wrong password and issues a token otherwise.
	if _, err := models.Login(adminCtx, admin.Username, "wrong-password"); err == nil {
		t.Fatalf("Login with a wrong password should fail")
	}
	info, err := models.Login(adminCtx, admin.Username, "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if info.Token == "" || info.AccessState != models.AccessStateActive {
		t.Fatalf("unexpected login info: %+v", info)
	}

	// 3) Profile + voucher import.
	profile, err := models.CreateTicketProfile(adminCtx, &models.NewTicketProfile{
		Name:              "24H",
		Price:             decimal.NewFromInt(2000),
		LowStockThreshold: 2,
	})
	if err != nil {
		t.Fatalf("CreateTicketProfile: %v", err)
	}

	creds := make([]models.TicketCredential, 0, 6)
	for i := 1; i <= 6; i++ {
		creds = append(creds, models.TicketCredential{
			Username: fmt.Sprintf("voucher-%03d", i),
			Password: fmt.Sprintf("pw-%03d", i),
		})
	}
	imported, err := models.ImportTickets(adminCtx, &models.ImportTicketsInput{
		TicketProfileId: profile.ID,
		Credentials:     creds,
	})
	if err != nil {
		t.Fatalf("ImportTickets: %v", err)
	}
	if imported.Imported != 6 || imported.Skipped != 0 {
		t.Fatalf("expected 6 imported / 0 skipped; got %+v", imported)
	}

	// Re-import overlap: all skipped, nothing duplicated.
	reimported, err := models.ImportTickets(adminCtx, &models.ImportTicketsInput{
		TicketProfileId: profile.ID,
		Credentials:     creds[:2],
	})
	if err != nil {
		t.Fatalf("ImportTickets(overlap): %v", err)
	}
	if reimported.Imported != 0 || reimported.Skipped != 2 {
		t.Fatalf("expected 0 imported / 2 skipped on overlap; got %+v", reimported)
	}

	countTickets := func(status models.TicketStatus) int64 {
		var n int64
		if err := db.Model(&models.Ticket{}).
			Where("tenant_id = ? AND status = ?", tenantId, status).Count(&n).Error; err != nil {
			t.Fatalf("count tickets %s: %v", status, err)
		}
		return n
	}

	// Every ledger operation, failed or not, must leave the tenant's
	// advisory lock free for the next caller on any pooled connection.
	ledgerLockFree := func() {
		t.Helper()
		var free int
		if err := db.Raw("SELECT IS_FREE_LOCK(?)", "ledger:"+tenantId).Scan(&free).Error; err != nil {
			t.Fatalf("IS_FREE_LOCK: %v", err)
		}
		if free != 1 {
			t.Fatalf("tenant ledger lock is still held")
		}
	}

	// 4) Over-assignment fails whole and mutates nothing.
	if _, err := models.AssignStock(adminCtx, reseller.ID, profile.ID, 10); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("AssignStock(10 of 6) = %v; want ErrInsufficientStock", err)
	}
	if n := countTickets(models.TicketStatusAssigne); n != 0 {
		t.Fatalf("failed assign must not move tickets; ASSIGNE=%d", n)
	}
	ledgerLockFree()

	// A profile with no vouchers at all is the same shortfall.
	empty, err := models.CreateTicketProfile(adminCtx, &models.NewTicketProfile{
		Name:  "7D",
		Price: decimal.NewFromInt(10000),
	})
	if err != nil {
		t.Fatalf("CreateTicketProfile(7D): %v", err)
	}
	if _, err := models.AssignStock(adminCtx, reseller.ID, empty.ID, 1); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("AssignStock on an empty profile = %v; want ErrInsufficientStock", err)
	}

	// Reseller cannot assign stock to themselves.
	if _, err := models.AssignStock(resellerCtx, reseller.ID, profile.ID, 1); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("AssignStock as reseller = %v; want ErrPermissionDenied", err)
	}

	// 5) Assign 5 of 6.
	if _, err := models.AssignStock(adminCtx, reseller.ID, profile.ID, 5); err != nil {
		t.Fatalf("AssignStock(5): %v", err)
	}
	if n := countTickets(models.TicketStatusAssigne); n != 5 {
		t.Fatalf("expected 5 ASSIGNE; got %d", n)
	}
	if n := countTickets(models.TicketStatusNeuf); n != 1 {
		t.Fatalf("expected 1 NEUF; got %d", n)
	}
	ledgerLockFree()

	// Low-stock report: 1 NEUF remaining <= threshold 2.
	low, err := models.GetLowStockProfiles(adminCtx)
	if err != nil {
		t.Fatalf("GetLowStockProfiles: %v", err)
	}
	if len(low) != 1 || low[0].ProfileId != profile.ID || low[0].AvailableCount != 1 {
		t.Fatalf("unexpected low stock report: %+v", low)
	}

	balance := func() decimal.Decimal {
		u, err := models.GetUser(adminCtx, reseller.ID)
		if err != nil {
			t.Fatalf("GetUser(reseller): %v", err)
		}
		return u.Balance
	}

	// 6) Selling with no balance fails before any mutation.
	if _, err := models.SellTicket(resellerCtx, &models.NewSale{TicketProfileId: profile.ID}); !errors.Is(err, utils.ErrInsufficientBalance) {
		t.Fatalf("SellTicket with zero balance = %v; want ErrInsufficientBalance", err)
	}
	if n := countTickets(models.TicketStatusVendu); n != 0 {
		t.Fatalf("failed sale must not sell tickets; VENDU=%d", n)
	}

	// 7) Recharges: bad momo phone rejected, cash credited on the spot.
	if _, err := models.RecordPayment(adminCtx, &models.NewPayment{
		ResellerId: reseller.ID,
		Amount:     decimal.NewFromInt(5000),
		Method:     models.PaymentMethodMtnMomo,
		PayerPhone: "123456789",
	}); !errors.Is(err, utils.ErrInvalidPhone) {
		t.Fatalf("RecordPayment(momo, bad phone) = %v; want ErrInvalidPhone", err)
	}

	cash, err := models.RecordPayment(adminCtx, &models.NewPayment{
		ResellerId: reseller.ID,
		Amount:     decimal.NewFromInt(10000),
		Method:     models.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("RecordPayment(cash): %v", err)
	}
	if cash.Status != models.PaymentStatusApproved {
		t.Fatalf("cash payment should be APPROVED; got %s", cash.Status)
	}
	if got := balance(); !got.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("balance after cash recharge = %s; want 10000", got)
	}

	// 8) Sell 2: balance drops by face value each time, credentials returned.
	sale1, err := models.SellTicket(resellerCtx, &models.NewSale{TicketProfileId: profile.ID})
	if err != nil {
		t.Fatalf("SellTicket(1): %v", err)
	}
	if sale1.Username == "" || sale1.Password == "" {
		t.Fatalf("sale must return voucher credentials; got %+v", sale1)
	}
	if sale1.NewBalance == nil || !sale1.NewBalance.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("balance after first sale = %v; want 8000", sale1.NewBalance)
	}
	sale2, err := models.SellTicket(resellerCtx, &models.NewSale{TicketProfileId: profile.ID})
	if err != nil {
		t.Fatalf("SellTicket(2): %v", err)
	}
	if sale2.NewBalance == nil || !sale2.NewBalance.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("balance after second sale = %v; want 6000", sale2.NewBalance)
	}
	if n := countTickets(models.TicketStatusVendu); n != 2 {
		t.Fatalf("expected 2 VENDU; got %d", n)
	}
	if n := countTickets(models.TicketStatusAssigne); n != 3 {
		t.Fatalf("expected 3 ASSIGNE; got %d", n)
	}

	// 9) Admin cancels one sale: ticket returns to the reseller's stock and
	// the balance is re-credited.
	if _, err := models.CancelSale(adminCtx, sale1.SaleId); err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	if got := balance(); !got.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("balance after cancel = %s; want 8000", got)
	}
	if n := countTickets(models.TicketStatusAssigne); n != 4 {
		t.Fatalf("expected 4 ASSIGNE after cancel; got %d", n)
	}
	var restored models.Ticket
	if err := db.Where("id = ?", sale1.TicketId).First(&restored).Error; err != nil {
		t.Fatalf("fetch restored ticket: %v", err)
	}
	if restored.Status != models.TicketStatusAssigne || restored.AssignedTo == nil || *restored.AssignedTo != reseller.ID {
		t.Fatalf("cancelled reseller sale should return to the reseller's stock; got %+v", restored)
	}
	if restored.SoldAt != nil || restored.SoldBy != nil {
		t.Fatalf("cancelled ticket should have sold fields cleared; got %+v", restored)
	}
	var saleCount int64
	if err := db.Model(&models.SaleRecord{}).Where("tenant_id = ?", tenantId).Count(&saleCount).Error; err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if saleCount != 1 {
		t.Fatalf("expected 1 sale record remaining; got %d", saleCount)
	}

	// 10) Momo recharge with a valid phone: pending, credited on submission
	// (default policy), approval keeps the balance unchanged.
	momo, err := models.RecordPayment(adminCtx, &models.NewPayment{
		ResellerId: reseller.ID,
		Amount:     decimal.NewFromInt(5000),
		Method:     models.PaymentMethodMtnMomo,
		PayerPhone: "622334455",
	})
	if err != nil {
		t.Fatalf("RecordPayment(momo): %v", err)
	}
	if momo.Status != models.PaymentStatusPending {
		t.Fatalf("momo payment should start PENDING; got %s", momo.Status)
	}
	if got := balance(); !got.Equal(decimal.NewFromInt(13000)) {
		t.Fatalf("balance after momo recharge = %s; want 13000", got)
	}
	approved, err := models.ApprovePayment(adminCtx, momo.ID)
	if err != nil {
		t.Fatalf("ApprovePayment: %v", err)
	}
	if approved.Status != models.PaymentStatusApproved {
		t.Fatalf("approved payment status = %s", approved.Status)
	}
	if got := balance(); !got.Equal(decimal.NewFromInt(13000)) {
		t.Fatalf("approval must not double-credit; balance = %s", got)
	}
	// A second settlement attempt must refuse.
	if _, err := models.ApprovePayment(adminCtx, momo.ID); err == nil {
		t.Fatalf("second ApprovePayment should fail")
	}

	// 11) Counter sales: an agent sells from the NEUF pool but may not
	// cancel, not even their own sale; a manager can, and the ticket
	// rejoins the pool.
	agent, err := models.CreateUser(adminCtx, &models.NewUser{
		TenantId: tenantId,
		Username: "douala-agent",
		Name:     "Counter Agent",
		Password: "secret123",
		Role:     models.UserRoleAgent,
		IsActive: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateUser(agent): %v", err)
	}
	agentCtx := context.Background()
	agentCtx = utils.SetTenantIdInContext(agentCtx, tenantId)
	agentCtx = utils.SetUserIdInContext(agentCtx, agent.ID)
	agentCtx = utils.SetUsernameInContext(agentCtx, agent.Username)
	agentCtx = utils.SetUserNameInContext(agentCtx, agent.Name)
	agentCtx = utils.SetUserRoleInContext(agentCtx, string(models.UserRoleAgent))

	counterSale, err := models.SellTicket(agentCtx, &models.NewSale{TicketProfileId: profile.ID})
	if err != nil {
		t.Fatalf("SellTicket(agent): %v", err)
	}
	if counterSale.NewBalance != nil {
		t.Fatalf("a counter sale must not touch any balance; got %+v", counterSale)
	}
	if _, err := models.CancelSale(agentCtx, counterSale.SaleId); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("CancelSale by the selling agent = %v; want ErrPermissionDenied", err)
	}
	if _, err := models.CancelSale(adminCtx, counterSale.SaleId); err != nil {
		t.Fatalf("CancelSale(agent sale) by admin: %v", err)
	}
	var pooled models.Ticket
	if err := db.Where("id = ?", counterSale.TicketId).First(&pooled).Error; err != nil {
		t.Fatalf("fetch pooled ticket: %v", err)
	}
	if pooled.Status != models.TicketStatusNeuf || pooled.AssignedTo != nil {
		t.Fatalf("cancelled counter sale should return to the pool; got %+v", pooled)
	}

	// 12) A reseller may cancel its own sale and is re-credited.
	if _, err := models.CancelSale(resellerCtx, sale2.SaleId); err != nil {
		t.Fatalf("CancelSale by the selling reseller: %v", err)
	}
	if got := balance(); !got.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("balance after self-cancel = %s; want 15000", got)
	}
	ledgerLockFree()

	// 13) The ledger reconciles: no drift for any reseller.
	drifts, err := workflow.ReconcileResellerBalances(context.Background(), db, logrus.New(), tenantId)
	if err != nil {
		t.Fatalf("ReconcileResellerBalances: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected zero drift; got %+v", drifts)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hotspot-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hotspot-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=hotspot_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
