package core

// CategoryAmount is one row of a spending-by-category breakdown.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthOverview aggregates one month of activity for one user.
type MonthOverview struct {
	Year        int
	Month       int
	Income      Money
	Expense     Money
	Net         Money
	SavingsRate float64
	ByCategory  []CategoryAmount // expense spending per category
}

// MonthlyPoint is one month of a year-long income/expense trend series.
type MonthlyPoint struct {
	Year    int
	Month   int
	Income  Money
	Expense Money
}

// SavingsRate returns the fraction of income kept, (income-expense)/income.
// It is zero when there is no income, and can go negative when spending
// exceeds income.
func SavingsRate(income, expense Money) float64 {
	if income.Cents <= 0 {
		return 0
	}
	return float64(income.Cents-expense.Cents) / float64(income.Cents)
}

// NewMonthOverview assembles an overview from monthly totals and the
// per-category breakdown.
func NewMonthOverview(year, month int, income, expense Money, byCategory []CategoryAmount) MonthOverview {
	return MonthOverview{
		Year:        year,
		Month:       month,
		Income:      income,
		Expense:     expense,
		Net:         Money{Cents: income.Cents - expense.Cents},
		SavingsRate: SavingsRate(income, expense),
		ByCategory:  byCategory,
	}
}
