package txn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := OpenMemoryDatabase(DatabaseOptions{InitialPages: 16})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// S1: basic write then read back across transactions.
func TestBasicWriteThenRead(t *testing.T) {
	db := openTestDB(t)

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	page, err := wtx.ModifyPage(3, 0)
	require.NoError(t, err)
	copy(page.Address, []byte("hello-gavran"))
	require.NoError(t, wtx.Commit())
	require.NoError(t, wtx.Close())

	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)
	got, err := rtx.GetPage(3)
	require.NoError(t, err)
	require.Equal(t, "hello-gavran", string(got.Address[:len("hello-gavran")]))
	require.NoError(t, rtx.Close())
}

// S2: an uncommitted transaction's writes never reach the file.
func TestRollbackDiscardsModifications(t *testing.T) {
	db := openTestDB(t)

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	page, err := wtx.ModifyPage(2, 0)
	require.NoError(t, err)
	copy(page.Address, []byte("should-not-persist"))
	require.NoError(t, wtx.Close()) // close without commit

	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)
	got, err := rtx.GetPage(2)
	require.NoError(t, err)
	require.NotEqual(t, "should-not-persist", string(got.Address[:len("should-not-persist")]))
	require.NoError(t, rtx.Close())
}

// S3: calling modify_page twice on the same page within a transaction
// returns the same buffer rather than erroring or duplicating state.
func TestDuplicateModifyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)

	first, err := wtx.ModifyPage(5, 0)
	require.NoError(t, err)
	copy(first.Address, []byte("v1"))

	second, err := wtx.ModifyPage(5, 0)
	require.NoError(t, err)
	require.Equal(t, "v1", string(second.Address[:2]), "second modify_page must see the first's in-progress write")
	require.Equal(t, 1, wtx.table.count, "a repeated modify_page must not create a second table entry")

	require.NoError(t, wtx.Commit())
	require.NoError(t, wtx.Close())
}

// S4: reading or modifying a page beyond the committed file rejects.
func TestOutOfRangePageIsRejected(t *testing.T) {
	db := openTestDB(t)

	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)
	_, err = rtx.GetPage(db.TotalPages() + 1000)
	require.Error(t, err)
	require.Equal(t, 1, rtx.Errs.Len())
	require.NoError(t, rtx.Close())

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	_, err = wtx.ModifyPage(db.TotalPages()+1000, 0)
	require.Error(t, err)
	require.NoError(t, wtx.Close())
}

// S5: allocating enough pages to force the database's mapping to grow
// past its initial size, with the new pages visible after commit.
func TestAllocateGrowsDatabase(t *testing.T) {
	db := openTestDB(t)
	initial := db.TotalPages()

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)

	const newPages = 1024
	var firstNew uint64
	for i := 0; i < newPages; i++ {
		page, err := wtx.AllocatePage(0)
		require.NoError(t, err)
		if i == 0 {
			firstNew = page.PageNum
		}
		page.Address[0] = byte(i)
	}
	require.NoError(t, wtx.Commit())
	require.NoError(t, wtx.Close())

	require.Equal(t, initial+newPages, db.TotalPages())

	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)
	page, err := rtx.GetPage(firstNew + 7)
	require.NoError(t, err)
	require.Equal(t, byte(7), page.Address[0])
	require.NoError(t, rtx.Close())
}

// S6: an overflow run spanning several physical pages round-trips.
func TestOverflowPageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	const overflowSize = uint64(PageSize*3 + 17)

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	page, err := wtx.AllocatePage(overflowSize)
	require.NoError(t, err)
	require.Equal(t, bufferSize(overflowSize), len(page.Address))
	for i := range page.Address {
		page.Address[i] = byte(i % 251)
	}
	pageNum := page.PageNum
	require.NoError(t, wtx.Commit())
	require.NoError(t, wtx.Close())

	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)
	got, err := rtx.GetPage(pageNum)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got.Address), bufferSize(overflowSize))
	for i := 0; i < bufferSize(overflowSize); i++ {
		require.Equal(t, byte(i%251), got.Address[i])
	}
	require.NoError(t, rtx.Close())
}

// S6b: modify_page on a page whose overflow run was established by a
// prior, already-closed transaction must not truncate that run just
// because the new call only asks for a single page.
func TestModifyPagePreservesPriorOverflowSize(t *testing.T) {
	db := openTestDB(t)
	const overflowSize = uint64(PageSize*3 + 17)

	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	page, err := wtx.AllocatePage(overflowSize)
	require.NoError(t, err)
	pageNum := page.PageNum
	for i := range page.Address {
		page.Address[i] = byte(i % 7)
	}
	require.NoError(t, wtx.Commit())
	require.NoError(t, wtx.Close())

	wtx2, err := Begin(db, FlagNone)
	require.NoError(t, err)
	got, err := wtx2.ModifyPage(pageNum, 0)
	require.NoError(t, err)
	require.Equal(t, overflowSize, got.OverflowSize,
		"modify_page must resolve the original's overflow size via metadata, not assume single-page")
	require.GreaterOrEqual(t, len(got.Address), bufferSize(overflowSize))
	for i := 0; i < bufferSize(overflowSize); i++ {
		require.Equal(t, byte(i%7), got.Address[i])
	}
	require.NoError(t, wtx2.Commit())
	require.NoError(t, wtx2.Close())
}

func TestReadOnlyTransactionRejectsWrites(t *testing.T) {
	db := openTestDB(t)
	rtx, err := Begin(db, FlagReadOnly)
	require.NoError(t, err)

	_, err = rtx.ModifyPage(0, 0)
	require.Error(t, err)
	_, err = rtx.AllocatePage(0)
	require.Error(t, err)
	require.NoError(t, rtx.Close())
}

func TestCommitTwiceFails(t *testing.T) {
	db := openTestDB(t)
	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	_, err = wtx.ModifyPage(0, 0)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())
	require.Error(t, wtx.Commit())
	require.NoError(t, wtx.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)
	require.NoError(t, wtx.Close())
	require.NoError(t, wtx.Close())
}

// Every core entry point other than Close asserts the error channel
// is empty on entry (spec.md §4.6/§7); a caller who doesn't drain a
// pending error is rejected rather than silently proceeding.
func TestEntryPointsRejectUndrainedErrors(t *testing.T) {
	db := openTestDB(t)
	wtx, err := Begin(db, FlagNone)
	require.NoError(t, err)

	_, err = wtx.ModifyPage(db.TotalPages()+1000, 0)
	require.Error(t, err)
	require.Equal(t, 1, wtx.Errs.Len())

	_, err = wtx.GetPage(0)
	require.Error(t, err, "GetPage must refuse to run with an undrained error on the stack")

	_, err = wtx.ModifyPage(0, 0)
	require.Error(t, err, "ModifyPage must refuse to run with an undrained error on the stack")

	_, err = wtx.AllocatePage(0)
	require.Error(t, err, "AllocatePage must refuse to run with an undrained error on the stack")

	err = wtx.Commit()
	require.Error(t, err, "Commit must refuse to run with an undrained error on the stack")

	wtx.Errs.Drain()
	require.NoError(t, wtx.Close())
}

func TestWriterSlotSerializesWriteTransactions(t *testing.T) {
	db := openTestDB(t)
	first, err := Begin(db, FlagNone)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		second, err := Begin(db, FlagNone)
		require.NoError(t, err)
		require.NoError(t, second.Close())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second write transaction must block while the first is open")
	default:
	}

	require.NoError(t, first.Close())
	<-done
}
